package aac

import (
	"math"

	"github.com/mvaldez/btaudio/internal/bitio"
)

// referenceCodec is the software stand-in for a vendor AAC core (see
// package doc): a straightforward uniform per-sample requantizer whose
// bit depth is derived from the negotiated bitrate, just real enough to
// exercise the surrounding LATM/fragmentation/negotiation pipeline
// end to end without a cgo dependency.
type referenceCodec struct {
	p    Params
	bits int // bits per sample this frame's bitrate budget allows
}

func bitsPerSample(p Params) int {
	if p.SamplingHz <= 0 {
		return 8
	}
	channels := p.Channels.numChannels()
	bits := p.BitrateBPS / p.SamplingHz / channels
	if bits < 4 {
		bits = 4
	}
	if bits > 16 {
		bits = 16
	}
	return bits
}

type referenceEncoder struct{ referenceCodec }
type referenceDecoder struct{ referenceCodec }

func newReferenceEncoder(p Params) (*referenceEncoder, error) {
	return &referenceEncoder{referenceCodec{p: p, bits: bitsPerSample(p)}}, nil
}

func newReferenceDecoder(p Params) (*referenceDecoder, error) {
	return &referenceDecoder{referenceCodec{p: p, bits: bitsPerSample(p)}}, nil
}

func (e *referenceEncoder) Encode(pcm []int16) ([]byte, error) {
	channels := e.p.Channels.numChannels()
	want := FrameSize * channels
	if len(pcm) != want {
		return nil, errFrameSize(len(pcm), want)
	}

	w := bitio.NewWriter((len(pcm)*e.bits + 7) / 8)
	levels := float64((uint32(1) << uint(e.bits)) - 1)
	for _, s := range pcm {
		normalized := (float64(s) + 32768) / 65536 // map int16 to [0,1)
		code := uint64(math.Round(normalized * levels))
		w.WriteBits(code, e.bits)
	}
	return w.Bytes(), nil
}

func (e *referenceEncoder) Close() error { return nil }

func (d *referenceDecoder) Decode(accessUnit []byte) ([]int16, error) {
	channels := d.p.Channels.numChannels()
	n := FrameSize * channels
	r := bitio.NewReader(accessUnit)
	levels := float64((uint32(1) << uint(d.bits)) - 1)

	out := make([]int16, n)
	for i := range out {
		code := r.ReadBits(d.bits)
		normalized := float64(code) / levels
		v := normalized*65536 - 32768
		out[i] = clampInt16(v)
	}
	return out, nil
}

func (d *referenceDecoder) Close() error { return nil }

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
