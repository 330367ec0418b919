// Package fit watches a training run from inside the host framework's fit loop.
//
// # Reading Guide
//
// Start with these files:
//   - host.go: the callback protocol a training framework drives (Model, Callback, RunState)
//   - tracker.go: the per-epoch bookkeeping (run-best, best-so-far, sniff test, saving)
//   - orchestrator.go: FindBestFit, which wires a Tracker and an EarlyStopping monitor into Model.Fit
//
// # Stop Paths
//
// A run ends when the host exhausts its epochs, when EarlyStopping runs out of
// patience, when the Tracker's sniff test fails, when the context is cancelled,
// or when a callback returns an error. Only the first three are normal
// terminations; the others surface as errors from FindBestFit.
//
// Host implementations live in sub-packages:
//   - fit/replay: replays a recorded per-epoch metric trace
package fit
