// Package manager drives components through their lifecycle on top of the
// dependency graph and module loader.
//
// A component becomes known through RegisterComponent (or the directory
// watcher), loads with its full dependency closure through LoadComponent,
// and then moves through the validated state machine: Loaded -> Running,
// Running <-> Paused, Running|Paused -> Stopping -> Stopped. Invalid
// transitions are rejected with a typed error, never silently ignored.
//
// Lifecycle changes emit events (Loaded, Unloaded, StateChanged, Error) to
// registered listeners. Listeners run synchronously on the triggering
// goroutine and are isolated: a panicking listener is recovered and logged
// without aborting the operation that raised the event.
//
// Concurrent LoadComponent calls for the same name coalesce into a single
// in-flight load; disjoint names load concurrently.
package manager
