package sbc

import (
	"fmt"

	"github.com/mvaldez/btaudio/internal/bitio"
)

// syncWord marks the start of a frame. It has the same value as the
// Bluetooth SIG's SBC sync byte, but the header bytes that follow it are
// this package's own layout, so the frames are not wire-compatible with
// a third party's SBC decoder (codec parameters are negotiated out of
// band via the A2DP config blob).
const syncWord = 0x9C

// writeFrameHeader writes the 5 fixed header bytes (sync, packed
// parameter byte, blocks, bitpool, reserved) followed by the 4-bit
// scale factor for every (channel, subband) pair.
func writeFrameHeader(w *bitio.Writer, h Header, scaleFactors [][]int) {
	freqIdx, _ := samplingFreqIndex(h.SamplingHz)
	subbandsFlag := byte(0)
	if h.Subbands == 8 {
		subbandsFlag = 1
	}
	packed := byte(freqIdx<<4) | byte(int(h.Channels)<<2) | byte(int(h.Alloc)<<1) | subbandsFlag

	w.WriteByte(syncWord)
	w.WriteByte(packed)
	w.WriteByte(byte(h.Blocks))
	w.WriteByte(byte(h.Bitpool))
	w.WriteByte(0) // reserved (no CRC-8 computed)

	for ch := range scaleFactors {
		for _, sf := range scaleFactors[ch] {
			w.WriteBits(uint64(sf), 4)
		}
	}
}

// readFrameHeader parses the header bytes a peer Encoder produced and
// returns the header plus per-(channel,subband) scale factors.
func readFrameHeader(r *bitio.Reader, nCh, subbands int) (Header, [][]int, error) {
	sync := r.ReadByte()
	if sync != syncWord {
		return Header{}, nil, fmt.Errorf("%w: bad sync byte 0x%02x", ErrInvalidHeader, sync)
	}
	packed := r.ReadByte()
	blocks := r.ReadByte()
	bitpool := r.ReadByte()
	r.ReadByte() // reserved

	freqIdx := int(packed >> 4 & 0x3)
	channels := ChannelMode(packed >> 2 & 0x3)
	alloc := AllocMethod(packed >> 1 & 0x1)
	subbandsFlag := packed & 0x1

	h := Header{
		SamplingHz: freqFromIndex(freqIdx),
		Blocks:     int(blocks),
		Channels:   channels,
		Alloc:      alloc,
		Subbands:   4,
		Bitpool:    int(bitpool),
	}
	if subbandsFlag == 1 {
		h.Subbands = 8
	}

	scaleFactors := make([][]int, nCh)
	for ch := 0; ch < nCh; ch++ {
		scaleFactors[ch] = make([]int, subbands)
		for s := 0; s < subbands; s++ {
			scaleFactors[ch][s] = int(r.ReadBits(4))
		}
	}
	return h, scaleFactors, nil
}

func freqFromIndex(idx int) int {
	switch idx {
	case 0:
		return 16000
	case 1:
		return 32000
	case 2:
		return 44100
	default:
		return 48000
	}
}
