package sbc

import (
	"fmt"

	"github.com/mvaldez/btaudio/internal/bitio"
)

// Decoder turns SBC frames back into interleaved 16-bit PCM.
type Decoder struct {
	h Header
	m *dctIVMatrix
}

func NewDecoder(h Header) (*Decoder, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	return &Decoder{h: h, m: getMatrix(h.Subbands)}, nil
}

func (d *Decoder) Header() Header { return d.h }

func (d *Decoder) decodeSamples(r *bitio.Reader, scaleFactors [][]int, bitpool int) []int16 {
	nCh := d.h.numChannels()
	allBits := make([][]int, nCh)
	for ch := 0; ch < nCh; ch++ {
		allBits[ch] = allocateBitsSNR(scaleFactors[ch], bitpool)
	}

	pcm := make([]int16, d.h.Blocks*d.h.Subbands*nCh)
	coeffs := make([]float64, d.h.Subbands)
	idx := 0
	for b := 0; b < d.h.Blocks; b++ {
		for ch := 0; ch < nCh; ch++ {
			for s := 0; s < d.h.Subbands; s++ {
				nBits := allBits[ch][s]
				var code uint64
				if nBits > 0 {
					code = r.ReadBits(nBits)
				}
				coeffs[s] = dequantize(uint32(code), scaleFactors[ch][s], nBits)
			}
			samples := d.m.synthesize(coeffs)
			for s := 0; s < d.h.Subbands; s++ {
				pcm[idx+ch+s*nCh] = clampSample(samples[s])
			}
		}
		idx += d.h.Subbands * nCh
	}
	return pcm
}

// Decode parses a self-describing frame produced by Encoder.Encode and
// returns h.CodeSize() bytes (CodeSize()/2 samples) of interleaved PCM.
func (d *Decoder) Decode(frame []byte) ([]int16, error) {
	nCh := d.h.numChannels()
	r := bitio.NewReader(frame)
	hdr, scaleFactors, err := readFrameHeader(r, nCh, d.h.Subbands)
	if err != nil {
		return nil, err
	}
	if hdr.Subbands != d.h.Subbands || hdr.numChannels() != nCh {
		return nil, fmt.Errorf("sbc: decode: frame layout (subbands=%d ch=%d) does not match negotiated header", hdr.Subbands, hdr.numChannels())
	}
	return d.decodeSamples(r, scaleFactors, hdr.Bitpool), nil
}

// DecodeRaw is the inverse of Encoder.EncodeRaw: body carries only scale
// factors and bit-packed samples for the negotiated (out-of-band) header
// d.h, with no self-describing framing bytes.
func (d *Decoder) DecodeRaw(body []byte) ([]int16, error) {
	nCh := d.h.numChannels()
	r := bitio.NewReader(body)
	scaleFactors := make([][]int, nCh)
	for ch := 0; ch < nCh; ch++ {
		scaleFactors[ch] = make([]int, d.h.Subbands)
		for s := 0; s < d.h.Subbands; s++ {
			scaleFactors[ch][s] = int(r.ReadBits(4))
		}
	}
	return d.decodeSamples(r, scaleFactors, d.h.Bitpool), nil
}

func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
