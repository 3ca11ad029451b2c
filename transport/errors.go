package transport

import "errors"

// Sentinel errors a worker's Run loop classifies against, in the style
// of a per-package var block (the teacher's core/errors.go shape).
var (
	// ErrPeerClosed is returned by Pcm.ReadFrames when the writer end of a
	// PCM pipe has gone away (EOF on read). WriteFrames does not return
	// it: on EPIPE it releases the pipe and returns (0, nil).
	ErrPeerClosed = errors.New("pcm: peer closed")

	// ErrNotRequested is returned by OpenForRead/OpenForWrite when no
	// path has been set by the control plane yet; TryOpenForRead and
	// TryOpenForWrite report that case as (false, nil).
	ErrNotRequested = errors.New("pcm: endpoint not requested")

	// ErrInvalidState marks the "invalid state" error kind from §7: a
	// worker's Run loop found the BT fd unset or an MTU ≤ 0 at startup,
	// both fatal init failures rather than something to retry.
	ErrInvalidState = errors.New("transport: invalid state")
)
