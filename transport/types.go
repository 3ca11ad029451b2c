// Package transport defines the shared per-connection data model the
// worker packages operate on: Transport, Pcm, and the state/codec
// enumerations the control plane and a worker both read.
//
// The control plane (outside this module) owns Transport and Pcm values
// and mutates them under Transport.mu; a worker reads fields advisorily,
// without locking, and writes only to the handful of fields §3 grants it.
package transport

import (
	"sync"
)

// Profile identifies which pipeline a Transport drives.
type Profile int

const (
	ProfileA2DPSource Profile = iota
	ProfileA2DPSink
	ProfileHFPAGRfcomm
	ProfileHFPAGSco
)

func (p Profile) String() string {
	switch p {
	case ProfileA2DPSource:
		return "a2dp-source"
	case ProfileA2DPSink:
		return "a2dp-sink"
	case ProfileHFPAGRfcomm:
		return "hfp-ag-rfcomm"
	case ProfileHFPAGSco:
		return "hfp-ag-sco"
	default:
		return "unknown"
	}
}

// Codec identifies the audio codec negotiated for a Transport.
type Codec int

const (
	CodecNone Codec = iota
	CodecSBC
	CodecAAC
	CodecCVSD
	CodecMSBC
)

func (c Codec) String() string {
	switch c {
	case CodecSBC:
		return "sbc"
	case CodecAAC:
		return "aac"
	case CodecCVSD:
		return "cvsd"
	case CodecMSBC:
		return "msbc"
	default:
		return "none"
	}
}

// State is the lifecycle state of a Transport as observed by its worker.
type State int

const (
	StateIdle State = iota
	StatePending
	StateActive
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// EventFD is a counting signal the control plane uses to wake a worker
// blocked in a multi-FD wait. One signal means "reread relevant fields."
type EventFD interface {
	// Fd returns the raw file descriptor a Pollset can wait on.
	Fd() int
	// Drain consumes any pending signal count, returning it.
	Drain() (uint64, error)
	// Signal posts one wakeup.
	Signal() error
	Close() error
}

// ReleaseFunc closes and clears the FDs the worker owns and transitions
// transport state. The worker Run loops in this module do not call
// Transport.Release; it runs only when the code that started the worker
// calls it.
type ReleaseFunc func()

// A2DPEndpoint is the per-channel state of an A2DP transport: its single
// PCM pipe plus volume/mute controls.
type A2DPEndpoint struct {
	Pcm          *Pcm
	VolumeLeft   uint8 // 0..127, channel 1
	VolumeRight  uint8 // 0..127, channel 2
	MuteLeft     bool
	MuteRight    bool
}

// RfcommBranch holds the state specific to an HFP AG RFCOMM transport.
type RfcommBranch struct {
	PairedSCO    *Transport // the paired SCO transport, control-plane owned
	HFFeatures   uint32     // negotiated HF feature bitmask
	MSBCEnabled  bool       // AG build supports mSBC negotiation
	CodecPending bool       // set by +BRSF when codec negotiation is possible; only a later +BRSF clears it
}

// ScoBranch holds the state specific to an HFP AG SCO transport.
type ScoBranch struct {
	SpeakerPcm  *Pcm
	MicPcm      *Pcm
	MicGain     uint8
	SpeakerGain uint8
	SCOCodec    Codec // CodecCVSD or CodecMSBC
	HFFeatures  uint32

	// AcquireBT and ReleaseBT are the control plane's BT-SCO bandwidth
	// hooks (§4.8: "acquire the BT SCO connection"/"release ... freeing
	// radio bandwidth"); BlueZ connection management is out of scope for
	// this core (§1), so the worker only calls these boundary functions.
	// AcquireBT returns the connected SCO socket fd.
	AcquireBT func() (int, error)
	ReleaseBT func()
}

// Transport is the per-connection context shared between the control
// plane and exactly one worker. All fields except those explicitly
// granted to the worker (see §3/§5 of the design notes) are mutated only
// by the control plane, under mu.
type Transport struct {
	mu sync.Mutex

	Profile Profile
	Codec   Codec

	BTFd    int // Bluetooth socket fd, -1 when closed
	EventFD EventFD

	ReadMTU  int
	WriteMTU int

	State State

	// CodecConfig is the opaque A2DP codec configuration blob; only the
	// codec pipeline interprets its bytes.
	CodecConfig []byte

	Release ReleaseFunc

	A2DP   *A2DPEndpoint
	Rfcomm *RfcommBranch
	Sco    *ScoBranch
}

// WithLock runs fn while holding the transport's control-plane lock. Only
// the control plane should call this; workers read fields without it.
func (t *Transport) WithLock(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn()
}

// SetBTFd records the BT socket descriptor under the lock. Workers write
// it themselves: the SCO worker stores the socket it acquires and clears
// it to -1 on teardown after closing it.
func (t *Transport) SetBTFd(fd int) {
	t.mu.Lock()
	t.BTFd = fd
	t.mu.Unlock()
}

// ReadBTFd returns the current BT fd without taking the lock: workers
// treat reads as advisory per the design's eventual-consistency model.
func (t *Transport) ReadBTFd() int {
	return t.BTFd
}

// SetMTU lets the SCO worker record the runtime-learned CVSD MTU (§4.8:
// "auto-detect MTU on first packet ... set both read and write MTU to
// the observed length"), the one exception to read/write MTU otherwise
// being control-plane-owned fields.
func (t *Transport) SetMTU(readMTU, writeMTU int) {
	t.mu.Lock()
	t.ReadMTU = readMTU
	t.WriteMTU = writeMTU
	t.mu.Unlock()
}
