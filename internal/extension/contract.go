package extension

import (
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"

	"github.com/dshills/artifex/internal/platform"
	"github.com/dshills/artifex/internal/services"
)

// Metadata describes an extension. It is supplied by the extension and
// never changes over the instance's lifetime.
type Metadata struct {
	Name            string   `json:"name" yaml:"name"`
	Version         string   `json:"version" yaml:"version"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Author          string   `json:"author,omitempty" yaml:"author,omitempty"`
	TargetPlatforms []string `json:"target_platforms" yaml:"target_platforms"`

	// RequiresHost is an optional semver constraint on the host version.
	RequiresHost string `json:"requires_host,omitempty" yaml:"requires_host,omitempty"`
}

// Normalize fills defaults. A nil target list becomes {"any"}.
func (m Metadata) Normalize() Metadata {
	if m.TargetPlatforms == nil {
		m.TargetPlatforms = []string{platform.Any}
	}
	m.TargetPlatforms = append([]string(nil), m.TargetPlatforms...)
	return m
}

// Validate checks the metadata against the contract. hostVersion may be
// nil, in which case RequiresHost is only checked for syntax.
func (m Metadata) Validate(hostVersion *semver.Version) error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("metadata.name is required")
	}
	if m.Version == "" {
		return errors.New("metadata.version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return errors.Wrapf(err, "metadata.version %q", m.Version)
	}
	if len(m.TargetPlatforms) == 0 {
		return errors.New("metadata.target_platforms must not be empty")
	}
	for _, tag := range m.TargetPlatforms {
		if !platform.ValidTag(tag) {
			return errors.WithHint(
				errors.Newf("metadata.target_platforms: unknown tag %q", tag),
				"use \"any\" or a platform label such as ios or android")
		}
	}
	if m.RequiresHost != "" {
		c, err := semver.NewConstraint(m.RequiresHost)
		if err != nil {
			return errors.Wrapf(err, "metadata.requires_host %q", m.RequiresHost)
		}
		if hostVersion != nil && !c.Check(hostVersion) {
			return errors.Newf("requires host %s, running %s", m.RequiresHost, hostVersion)
		}
	}
	return nil
}

// Args carries the positional and named arguments of one execution.
type Args struct {
	Positional []any
	Named      map[string]any
}

// Extension is the contract every extension implements.
type Extension interface {
	Metadata() Metadata
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, args Args) (any, error)
	Cleanup(ctx context.Context) error
}

// Type is a discovered extension that has not been instantiated.
type Type interface {
	// TypeName is the implementing type's own identifier. It is distinct
	// from Metadata().Name.
	TypeName() string
	// Module is the unique module name the type was loaded from.
	Module() string
	Metadata() Metadata
	// New constructs an instance bound to svc.
	New(svc services.Services) (Extension, error)
}

// Factory constructs a Go-native extension.
type Factory func(svc services.Services) (Extension, error)

type goType struct {
	typeName string
	meta     Metadata
	factory  Factory
}

// NewType describes a Go-native extension type. Go types are passed to
// the Discoverer explicitly.
func NewType(typeName string, meta Metadata, factory Factory) Type {
	return &goType{typeName: typeName, meta: meta.Normalize(), factory: factory}
}

func (t *goType) TypeName() string   { return t.typeName }
func (t *goType) Module() string     { return "builtin/" + t.typeName }
func (t *goType) Metadata() Metadata { return t.meta }

func (t *goType) New(svc services.Services) (Extension, error) {
	if t.factory == nil {
		return nil, errors.Newf("type %s has no factory", t.typeName)
	}
	return t.factory(svc)
}
