// Package align fuses differently-sampled sensor streams into one
// synchronized frame sequence.
//
// Camera streams are first reduced to anchors: SyncCameras picks, per base
// camera frame, the nearest frame of every other camera within a tolerance.
// A Strategy then produces at most one AlignedFrame per anchor from the four
// arm streams. Three strategies exist: Nearest (single-sample lookup),
// Window (aggregate over a time window, smoother but laggier), and Chunking
// (Nearest observations with a forward-looking multi-step action).
//
// Everything in this package is pure computation: no I/O, no shared state,
// safe for concurrent use.
package align
