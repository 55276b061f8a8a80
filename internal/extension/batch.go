package extension

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/artifex/internal/platform"
)

// Selection chooses which extensions a batch runs. Exactly one mode
// must be set.
type Selection struct {
	// Name runs a single extension.
	Name string
	// Names runs an explicit list in order, duplicates dropped.
	Names []string
	// All runs every extension compatible with the detected platform.
	All bool
	// Platform runs every extension compatible with the given label.
	Platform string
}

func (s Selection) modes() int {
	n := 0
	if s.Name != "" {
		n++
	}
	if len(s.Names) > 0 {
		n++
	}
	if s.All {
		n++
	}
	if s.Platform != "" {
		n++
	}
	return n
}

// Detector reports the platform of the evidence being analyzed.
type Detector interface {
	DetectPlatform(ctx context.Context) (platform.Platform, error)
}

// ExecutionResult is the outcome of one extension in a batch.
type ExecutionResult struct {
	Name     string
	Success  bool
	Value    any
	Err      error
	Stage    Op // transition that failed, or OpExecute on success
	Duration time.Duration
}

// Summary aggregates a batch.
type Summary struct {
	ID        uuid.UUID
	Platform  platform.Platform // label used for filtering, empty for name modes
	StartedAt time.Time
	Duration  time.Duration
	Results   []ExecutionResult
	Total     int
	Success   int
	Failed    int
}

// OK reports whether every selected extension succeeded.
func (s *Summary) OK() bool { return s.Failed == 0 }

// ExitCode returns 0 when every extension succeeded, 1 otherwise.
func (s *Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

func (s *Summary) add(r ExecutionResult) {
	s.Results = append(s.Results, r)
	s.Total++
	if r.Success {
		s.Success++
	} else {
		s.Failed++
	}
}

// Orchestrator runs selections through the Manager sequentially.
type Orchestrator struct {
	manager  *Manager
	detector Detector
	logger   *zap.SugaredLogger
}

// NewOrchestrator creates an Orchestrator. detector may be nil, in which
// case all-compatible selection always sees platform.Unknown.
func NewOrchestrator(m *Manager, detector Detector, logger *zap.SugaredLogger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Orchestrator{manager: m, detector: detector, logger: logger}
}

// Resolve validates sel and returns the ordered names it selects plus
// the platform label used for filtering.
func (o *Orchestrator) Resolve(ctx context.Context, sel Selection) ([]string, platform.Platform, error) {
	switch n := sel.modes(); {
	case n == 0:
		return nil, "", ConfigurationError("no selection: give a name, a list, --all or --platform")
	case n > 1:
		return nil, "", ConfigurationError("selection modes are mutually exclusive (%d given)", n)
	}
	if err := o.manager.Discover(ctx); err != nil {
		return nil, "", err
	}

	switch {
	case sel.Name != "":
		if !o.manager.Has(sel.Name) {
			return nil, "", ConfigurationError("unknown extension %q", sel.Name)
		}
		return []string{sel.Name}, "", nil

	case len(sel.Names) > 0:
		seen := make(map[string]bool, len(sel.Names))
		var names, unknown []string
		for _, name := range sel.Names {
			if seen[name] {
				continue
			}
			seen[name] = true
			if !o.manager.Has(name) {
				unknown = append(unknown, name)
				continue
			}
			names = append(names, name)
		}
		if len(unknown) > 0 {
			return nil, "", ConfigurationError("unknown extensions %q", unknown)
		}
		return names, "", nil

	case sel.All:
		detected := o.detect(ctx)
		return o.compatible(detected), detected, nil

	default:
		label, err := platform.Parse(sel.Platform)
		if err != nil {
			return nil, "", newError(KindConfiguration, "", OpSelect, err)
		}
		return o.compatible(label), label, nil
	}
}

// detect never fails: detection errors degrade to platform.Unknown.
func (o *Orchestrator) detect(ctx context.Context) platform.Platform {
	if o.detector == nil {
		return platform.Unknown
	}
	p, err := o.detector.DetectPlatform(ctx)
	if err != nil || !p.IsKnown() {
		o.logger.Warnw("platform detection failed, using unknown", "error", err, "label", p)
		return platform.Unknown
	}
	return p
}

func (o *Orchestrator) compatible(p platform.Platform) []string {
	var names []string
	for _, info := range o.manager.List() {
		if info.State == StateDisabled {
			o.logger.Debugw("skipping disabled extension", "extension", info.Name)
			continue
		}
		if Compatible(info.Metadata.TargetPlatforms, p) {
			names = append(names, info.Name)
		}
	}
	return names
}

// Run resolves sel and runs each selected extension through load,
// initialize and execute, starting from its current state. A failure is
// recorded and the batch continues. Only selection errors are returned.
func (o *Orchestrator) Run(ctx context.Context, sel Selection, args Args) (*Summary, error) {
	names, label, err := o.Resolve(ctx, sel)
	if err != nil {
		return nil, err
	}

	summary := &Summary{ID: uuid.New(), Platform: label, StartedAt: time.Now()}
	log := o.logger.With("batch", summary.ID.String())
	log.Infow("batch started", "extensions", len(names), "platform", label)

	for _, name := range names {
		res := o.runOne(ctx, name, args)
		summary.add(res)
		if res.Success {
			log.Infow("extension succeeded", "extension", name, "duration", res.Duration)
		} else {
			log.Warnw("extension failed", "extension", name, "stage", res.Stage, "error", res.Err)
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	log.Infow("batch finished",
		"total", summary.Total, "success", summary.Success, "failed", summary.Failed,
		"duration", summary.Duration)
	return summary, nil
}

func (o *Orchestrator) runOne(ctx context.Context, name string, args Args) ExecutionResult {
	start := time.Now()
	res := ExecutionResult{Name: name}
	failed := func(stage Op, err error) ExecutionResult {
		res.Stage = stage
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	info, err := o.manager.Info(name)
	if err != nil {
		return failed(OpSelect, err)
	}

	switch info.State {
	case StateError, StateDisabled:
		return failed(OpSelect, newError(KindInvalidTransition, name, OpExecute,
			errorf("extension is %s; unload it before running again", info.State)))
	case StateUnloaded:
		if err := o.manager.Load(ctx, name); err != nil {
			return failed(OpLoad, err)
		}
		fallthrough
	case StateLoaded:
		if err := o.manager.Initialize(ctx, name); err != nil {
			return failed(OpInitialize, err)
		}
	}

	value, err := o.manager.Execute(ctx, name, args)
	if err != nil {
		return failed(OpExecute, err)
	}
	res.Success = true
	res.Value = value
	res.Stage = OpExecute
	res.Duration = time.Since(start)
	return res
}
