package sbc

import (
	"fmt"

	"github.com/mvaldez/btaudio/internal/bitio"
)

// Encoder turns interleaved 16-bit PCM into SBC frames sized per Header.
type Encoder struct {
	h Header
	m *dctIVMatrix
}

func NewEncoder(h Header) (*Encoder, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	return &Encoder{h: h, m: getMatrix(h.Subbands)}, nil
}

func (e *Encoder) Header() Header { return e.h }

// analysis holds the per-(channel,block,subband) transform output and
// the derived scale factors/bit allocation shared by Encode and
// EncodeRaw.
type analysis struct {
	coeffs       [][][]float64 // [ch][block][subband]
	scaleFactors [][]int       // [ch][subband]
	allBits      [][]int       // [ch][subband]
}

func (e *Encoder) analyze(pcm []int16) (analysis, error) {
	nCh := e.h.numChannels()
	want := e.h.Blocks * e.h.Subbands * nCh
	if len(pcm) != want {
		return analysis{}, fmt.Errorf("sbc: encode wants %d samples, got %d", want, len(pcm))
	}

	coeffs := make([][][]float64, nCh)
	for ch := range coeffs {
		coeffs[ch] = make([][]float64, e.h.Blocks)
	}
	idx := 0
	block := make([]float64, e.h.Subbands)
	for b := 0; b < e.h.Blocks; b++ {
		for ch := 0; ch < nCh; ch++ {
			for s := 0; s < e.h.Subbands; s++ {
				block[s] = float64(pcm[idx+ch+s*nCh])
			}
			coeffs[ch][b] = e.m.analyze(block)
		}
		idx += e.h.Subbands * nCh
	}

	scaleFactors := make([][]int, nCh)
	for ch := 0; ch < nCh; ch++ {
		maxAbs := make([]float64, e.h.Subbands)
		for b := 0; b < e.h.Blocks; b++ {
			for s := 0; s < e.h.Subbands; s++ {
				if a := abs(coeffs[ch][b][s]); a > maxAbs[s] {
					maxAbs[s] = a
				}
			}
		}
		scaleFactors[ch] = make([]int, e.h.Subbands)
		for s := range scaleFactors[ch] {
			scaleFactors[ch][s] = scaleFactor(maxAbs[s])
		}
	}

	allBits := make([][]int, nCh)
	for ch := 0; ch < nCh; ch++ {
		allBits[ch] = allocateBitsSNR(scaleFactors[ch], e.h.Bitpool)
	}

	return analysis{coeffs: coeffs, scaleFactors: scaleFactors, allBits: allBits}, nil
}

func (a analysis) writeSamples(w *bitio.Writer, blocks, subbands, nCh int) {
	for b := 0; b < blocks; b++ {
		for ch := 0; ch < nCh; ch++ {
			for s := 0; s < subbands; s++ {
				nBits := a.allBits[ch][s]
				if nBits == 0 {
					continue
				}
				code := quantize(a.coeffs[ch][b][s], a.scaleFactors[ch][s], nBits)
				w.WriteBits(uint64(code), nBits)
			}
		}
	}
}

// Encode consumes exactly h.CodeSize() bytes of interleaved PCM and
// returns one self-describing frame of h.FrameLength() bytes.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	a, err := e.analyze(pcm)
	if err != nil {
		return nil, err
	}
	w := bitio.NewWriter(e.h.FrameLength())
	writeFrameHeader(w, e.h, a.scaleFactors)
	a.writeSamples(w, e.h.Blocks, e.h.Subbands, e.h.numChannels())
	return w.Bytes(), nil
}

// RawBodyLen is the size of EncodeRaw's output: scale factors plus
// quantized samples, with none of Encode's fixed framing bytes. Callers
// that negotiate codec parameters out of band can use this to size their
// own wire frame; codec/msbc does not call it and sizes its body from its
// fixed FrameLen instead.
func (h Header) RawBodyLen() int {
	scaleFactorBits := 4 * h.Subbands * h.numChannels()
	bits := h.Blocks * h.numChannels() * h.Bitpool
	return (scaleFactorBits+bits+7)/8
}

// EncodeRaw is Encode without the 5-byte self-describing header: just
// the per-subband scale factors and bit-packed samples, into a buffer of
// exactly byteLen bytes (padded with zero bits if byteLen exceeds the
// natural packed size).
func (e *Encoder) EncodeRaw(pcm []int16, byteLen int) ([]byte, error) {
	a, err := e.analyze(pcm)
	if err != nil {
		return nil, err
	}
	w := bitio.NewWriter(byteLen)
	for ch := range a.scaleFactors {
		for _, sf := range a.scaleFactors[ch] {
			w.WriteBits(uint64(sf), 4)
		}
	}
	a.writeSamples(w, e.h.Blocks, e.h.Subbands, e.h.numChannels())
	return w.Bytes(), nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
