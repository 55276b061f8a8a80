// Package extension implements the extension lifecycle core: discovery of
// extension types across search roots, the registry, the per-extension
// state machine and the batch orchestrator.
//
// # Lifecycle
//
// Every registered extension is in exactly one State:
//
//	UNLOADED --load--> LOADED --initialize--> INITIALIZED --execute--> ACTIVE
//	                                                         ACTIVE --execute--> ACTIVE
//
// A failed load, initialize or execute moves the extension to ERROR. From
// ERROR the only ways forward are unload (back to UNLOADED) and disable.
// Unload always ends in UNLOADED, even when the extension's cleanup fails.
//
// # Discovery
//
// A Discoverer scans Roots for files matching a TypeLoader's pattern.
// Files whose names start with "_" or "." are private and skipped. Each
// file is evaluated in its own namespace under a derived module name, and
// must contribute exactly one extension type. Go-native types are passed
// in with WithBuiltins.
//
// # Batches
//
// An Orchestrator resolves a Selection (one name, an explicit list, all
// extensions compatible with the detected platform, or all compatible
// with a given label) and runs each selected extension in order. One
// extension's failure never stops the batch; the Summary reports it.
//
// Example:
//
//	d := extension.NewDiscoverer(
//		extension.WithRoots(extension.DirRoot("./extensions")),
//		extension.WithLoaders(lua.NewLoader()),
//	)
//	m := extension.NewManager(d, svc)
//	o := extension.NewOrchestrator(m, svc, logger)
//	summary, err := o.Run(ctx, extension.Selection{All: true}, extension.Args{})
package extension
