// Package logging provides structured logging for stardock with unified
// log handling and level filtering.
//
// The package is a thin layer over Go's standard slog package. Every entry
// carries a subsystem identifier so log output can be filtered by the part
// of the system that produced it ("Graph", "Loader", "Manager", "Scanner",
// "Watcher", "Bootstrap").
//
// Usage:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//	logging.Info("Bootstrap", "starting component manager")
//	logging.Error("Loader", err, "failed to load module %s", name)
//
// InitForCLI should be called once at startup. Calls made before
// initialization are written to stderr so early failures are never lost.
package logging
