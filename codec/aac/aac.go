// Package aac implements the AAC-LATM codec pipeline (§4.6): parameter
// derivation from the A2DP AAC configuration blob, LATM audioMuxElement
// framing, and the encoder/decoder integration seam. The original
// implementation never computes AAC itself either — io_thread_a2dp_*_aac
// calls into libfdk-aac through a handful of entry points
// (aacEncEncode, aacDecoder_DecodeFrame, ...). This package defines the
// equivalent Go-shaped seam (Encoder/Decoder) and ships one concrete,
// software-only implementation (ReferenceCodec) so the rest of the
// pipeline — LATM muxing, RTP fragmentation, parameter negotiation — is
// real, exercised Go code without requiring a vendored AAC core; a
// production deployment supplies a real Encoder/Decoder (typically a
// cgo binding) behind the same interface.
package aac

import (
	"errors"
	"fmt"
)

// ObjectType is the MPEG-4 audio object type negotiated for the stream.
type ObjectType int

const (
	ObjectTypeMPEG2LC ObjectType = iota
	ObjectTypeMPEG4LC
	ObjectTypeMPEG4LTP
	ObjectTypeMPEG4SCA
)

// ChannelMode mirrors sbc.ChannelMode's shape for the AAC config path.
type ChannelMode int

const (
	ModeMono ChannelMode = iota
	ModeStereo
)

// Params are the encoder/decoder parameters derived from the A2DP AAC
// codec configuration blob plus global configuration (§4.6).
type Params struct {
	Object      ObjectType
	SamplingHz  int
	Channels    ChannelMode
	BitrateBPS  int
	VBR         bool
	Afterburner bool
}

var ErrMalformedConfig = errors.New("aac: malformed codec configuration blob")

// configBlob is this engine's 6-byte A2DP AAC codec configuration
// layout: byte0 object-type bitmask (one bit set once negotiated),
// bytes1-2 a 12-bit sampling-frequency code (byte1 and the high nibble
// of byte2) with the stereo flag in bit 3 of byte2, bytes3-5 a 23-bit packed
// bitrate with the VBR flag in the top bit of byte3. The exact bit
// layout is a negotiation detail owned by the control plane in a real
// deployment; this module only needs a self-consistent encoding to
// round-trip configuration through ParseConfig/MarshalConfig.
const configBlobLen = 6

// ParseConfig decodes an opaque A2DP AAC configuration blob into Params,
// applying globalVBR/globalAfterburner from configuration when the
// blob's own VBR bit is set (§4.6: "VBR mode (from global config when
// the config blob's VBR bit is set)").
func ParseConfig(blob []byte, globalVBR, globalAfterburner bool) (Params, error) {
	if len(blob) != configBlobLen {
		return Params{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedConfig, len(blob), configBlobLen)
	}

	objectType, err := decodeObjectType(blob[0])
	if err != nil {
		return Params{}, err
	}

	freqCode := uint16(blob[1])<<4 | uint16(blob[2])>>4
	samplingHz, err := decodeSamplingRate(freqCode)
	if err != nil {
		return Params{}, err
	}
	channels := ModeMono
	if blob[2]&0x08 != 0 {
		channels = ModeStereo
	}

	vbrBit := blob[3]&0x80 != 0
	bitrate := (int(blob[3]&0x7F) << 16) | (int(blob[4]) << 8) | int(blob[5])

	p := Params{
		Object:     objectType,
		SamplingHz: samplingHz,
		Channels:   channels,
		BitrateBPS: bitrate,
	}
	if vbrBit {
		p.VBR = globalVBR
		p.Afterburner = globalAfterburner
	}
	return p, nil
}

// MarshalConfig is ParseConfig's inverse, used by tests and by any
// component that needs to synthesize a configuration blob.
func MarshalConfig(p Params, vbrRequested bool) []byte {
	blob := make([]byte, configBlobLen)
	blob[0] = encodeObjectType(p.Object)

	freqCode := encodeSamplingRate(p.SamplingHz)
	blob[1] = byte(freqCode >> 4)
	blob[2] = byte(freqCode<<4) & 0xF0
	if p.Channels == ModeStereo {
		blob[2] |= 0x08
	}

	if vbrRequested {
		blob[3] = 0x80
	}
	blob[3] |= byte((p.BitrateBPS >> 16) & 0x7F)
	blob[4] = byte(p.BitrateBPS >> 8)
	blob[5] = byte(p.BitrateBPS)
	return blob
}

func decodeObjectType(b byte) (ObjectType, error) {
	switch {
	case b&0x80 != 0:
		return ObjectTypeMPEG2LC, nil
	case b&0x40 != 0:
		return ObjectTypeMPEG4LC, nil
	case b&0x20 != 0:
		return ObjectTypeMPEG4LTP, nil
	case b&0x10 != 0:
		return ObjectTypeMPEG4SCA, nil
	default:
		return 0, fmt.Errorf("%w: no object type bit set in 0x%02x", ErrMalformedConfig, b)
	}
}

func encodeObjectType(o ObjectType) byte {
	switch o {
	case ObjectTypeMPEG2LC:
		return 0x80
	case ObjectTypeMPEG4LC:
		return 0x40
	case ObjectTypeMPEG4LTP:
		return 0x20
	default:
		return 0x10
	}
}

func decodeSamplingRate(code uint16) (int, error) {
	rates := map[uint16]int{
		0x0: 96000, 0x1: 88200, 0x2: 64000, 0x3: 48000,
		0x4: 44100, 0x5: 32000, 0x6: 24000, 0x7: 22050,
		0x8: 16000, 0x9: 12000, 0xA: 11025, 0xB: 8000,
	}
	hz, ok := rates[code]
	if !ok {
		return 0, fmt.Errorf("%w: unknown sampling rate code 0x%x", ErrMalformedConfig, code)
	}
	return hz, nil
}

func encodeSamplingRate(hz int) uint16 {
	codes := map[int]uint16{
		96000: 0x0, 88200: 0x1, 64000: 0x2, 48000: 0x3,
		44100: 0x4, 32000: 0x5, 24000: 0x6, 22050: 0x7,
		16000: 0x8, 12000: 0x9, 11025: 0xA, 8000: 0xB,
	}
	return codes[hz]
}

func (c ChannelMode) numChannels() int {
	if c == ModeStereo {
		return 2
	}
	return 1
}
