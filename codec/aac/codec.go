package aac

import "fmt"

// FrameSize is the number of PCM samples (per channel) one AAC access
// unit represents for the reference codec; a real vendor codec would
// report its own per the negotiated profile.
const FrameSize = 1024

// Encoder turns PCM into one AAC access unit (raw, not yet LATM-wrapped
// or RTP-fragmented). Implementations own their internal encoder state.
type Encoder interface {
	// Encode consumes exactly FrameSize*channels samples of interleaved
	// 16-bit PCM and returns one encoded access unit.
	Encode(pcm []int16) ([]byte, error)
	Close() error
}

// Decoder is Encoder's inverse: one access unit in, PCM out.
type Decoder interface {
	Decode(accessUnit []byte) ([]int16, error)
	Close() error
}

// NewEncoder and NewDecoder select the configured codec implementation.
// Only ReferenceCodec is built in; production deployments wire a real
// AAC core in behind the same interfaces (see package doc).
func NewEncoder(p Params) (Encoder, error) {
	return newReferenceEncoder(p)
}

func NewDecoder(p Params) (Decoder, error) {
	return newReferenceDecoder(p)
}

// errFrameSize reports a PCM buffer of the wrong size for FrameSize.
func errFrameSize(got, want int) error {
	return fmt.Errorf("aac: pcm buffer has %d samples, want %d", got, want)
}
