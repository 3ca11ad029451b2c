// Package msbc implements the mSBC framer (§4.7): H2 synchronization
// header cycling, 59-byte SCO frame assembly, the prebuffer-before-
// first-send protocol, and byte-level resync on decode. The underlying
// subband compression is delegated to codec/sbc configured with mSBC's
// fixed parameters (16kHz mono, 8 subbands, 15 blocks, bitpool 26),
// following the same "core calls the codec through a narrow interface"
// shape the original implementation uses for its SBC library calls.
package msbc

import (
	"errors"
	"fmt"

	"github.com/mvaldez/btaudio/codec/sbc"
)

const (
	h2SyncByte    = 0xAD
	h2FirstByte   = 0x01
	h2HeaderLen   = 2
	FrameLen      = 57 // H2-less payload length
	WireFrameLen  = h2HeaderLen + FrameLen // 59, per §4.7
	PCMBlockLen   = 240                    // 120 samples * 2 bytes, 16kHz mono
	wireChunkLen  = 24                     // the SCO quantum frames are written in
)

// h2SecondBytes is the 4-entry cycle the H2 header's second byte steps
// through, keyed by a 2-bit sequence counter modulo 4.
var h2SecondBytes = [4]byte{0x08, 0x38, 0xC8, 0xF8}

var (
	ErrSyncLost = errors.New("msbc: sync lost, resyncing")
)

func mSBCHeader() sbc.Header {
	return sbc.Header{
		SamplingHz: 16000,
		Blocks:     15,
		Channels:   sbc.ModeMono,
		Alloc:      sbc.AllocSNR,
		Subbands:   8,
		Bitpool:    26,
	}
}

// State holds one direction's framing state: the next H2 sequence value.
// The encoder's first-frame-sent latch is kept on Encoder, not here.
type State struct {
	seq int // 0..3
}

func (s *State) nextH2() [2]byte {
	h2 := [2]byte{h2FirstByte, h2SecondBytes[s.seq]}
	s.seq = (s.seq + 1) % 4
	return h2
}

// Encoder accumulates PCM into 240-byte blocks and emits 59-byte mSBC
// frames, prebuffering before the first frame per §4.7.
type Encoder struct {
	sbcEnc *sbc.Encoder
	state  State

	pcmBuf []byte // accumulated, not-yet-encoded PCM

	prebufferFrames int
	pending         [][]byte // frames buffered until prebuffer threshold is met
	firstFrameSent  bool
}

func NewEncoder(prebufferFrames int) (*Encoder, error) {
	sbcEnc, err := sbc.NewEncoder(mSBCHeader())
	if err != nil {
		return nil, fmt.Errorf("msbc: %w", err)
	}
	return &Encoder{sbcEnc: sbcEnc, prebufferFrames: prebufferFrames}, nil
}

// FeedPCM appends raw PCM bytes (16-bit mono samples) to the encoder's
// input buffer.
func (e *Encoder) FeedPCM(pcm []byte) {
	e.pcmBuf = append(e.pcmBuf, pcm...)
}

// Encode drains as many complete 240-byte PCM blocks as are buffered,
// producing 59-byte mSBC frames. Frames are held back until the
// prebuffer threshold is reached, then released all at once with the
// latch set; after that every subsequent frame is returned immediately.
func (e *Encoder) Encode() ([][]byte, error) {
	var ready [][]byte
	for len(e.pcmBuf) >= PCMBlockLen {
		block := e.pcmBuf[:PCMBlockLen]
		e.pcmBuf = append(e.pcmBuf[:0:0], e.pcmBuf[PCMBlockLen:]...)

		samples := bytesToInt16(block)
		body, err := e.sbcEnc.EncodeRaw(samples, FrameLen-1)
		if err != nil {
			return nil, fmt.Errorf("msbc: encode: %w", err)
		}
		h2 := e.state.nextH2()
		frame := make([]byte, 0, WireFrameLen)
		frame = append(frame, h2[0], h2[1], h2SyncByte)
		frame = append(frame, body...)

		if !e.firstFrameSent {
			e.pending = append(e.pending, frame)
			if len(e.pending) >= e.prebufferFrames {
				ready = append(ready, e.pending...)
				e.pending = nil
				e.firstFrameSent = true
			}
			continue
		}
		ready = append(ready, frame)
	}
	return ready, nil
}

// Decoder scans an accumulated byte stream for H2-synchronized 59-byte
// frames and decodes them back to PCM.
type Decoder struct {
	sbcDec *sbc.Decoder
	buf    []byte
}

func NewDecoder() (*Decoder, error) {
	sbcDec, err := sbc.NewDecoder(mSBCHeader())
	if err != nil {
		return nil, fmt.Errorf("msbc: %w", err)
	}
	return &Decoder{sbcDec: sbcDec}, nil
}

// Feed appends bytes read off the SCO socket to the decode buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Decode scans the buffer for synchronized frames, decoding as many as
// are available, and compacts the buffer so the next Feed continues
// from where scanning left off. A corrupt frame body drops the whole
// buffer and resumes scanning from empty per §4.7 ("on failure drop the
// entire buffer"); byte-level resync (advance by one) happens when the
// sync pattern itself doesn't match.
func (d *Decoder) Decode() ([][]byte, error) {
	var pcmBlocks [][]byte
	for len(d.buf) >= WireFrameLen {
		if d.buf[0] == h2FirstByte && d.buf[2] == h2SyncByte {
			body := d.buf[h2HeaderLen+1 : h2HeaderLen+1+(FrameLen-1)]
			pcm, err := d.sbcDec.DecodeRaw(body)
			if err != nil {
				d.buf = nil
				return pcmBlocks, fmt.Errorf("%w: %v", ErrSyncLost, err)
			}
			pcmBlocks = append(pcmBlocks, int16ToBytes(pcm))
			d.buf = d.buf[h2HeaderLen+1+len(body):]
			continue
		}
		// Resync: advance one byte and keep scanning.
		d.buf = d.buf[1:]
	}
	return pcmBlocks, nil
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

// WireChunks splits a slice of ready frames into wireChunkLen-sized
// segments for the 24-byte-at-a-time SCO write pattern (§4.7).
func WireChunks(frames [][]byte) [][]byte {
	var all []byte
	for _, f := range frames {
		all = append(all, f...)
	}
	var chunks [][]byte
	for off := 0; off < len(all); off += wireChunkLen {
		end := off + wireChunkLen
		if end > len(all) {
			end = len(all)
		}
		chunks = append(chunks, all[off:end])
	}
	return chunks
}
