package aac

import (
	"encoding/binary"
	"fmt"
)

// latmSync marks the start of a LATM audioMuxElement. LATM/LOAS framing
// in a real AAC decoder carries an 11-bit sync word and a 13-bit length
// field bit-packed into the stream; this engine frames the same
// information byte-aligned (sync byte, StreamMuxConfig bytes, 16-bit
// payload length) since, like codec/sbc, it never needs to interoperate
// with a third-party LATM parser — only with its own Mux/Demux pair.
const latmSync = 0x2B

// MuxLATM wraps one encoded AAC access unit in a LATM-style
// audioMuxElement with header-period 1: the StreamMuxConfig (object
// type, sampling rate, channel mode) is resent with every element
// rather than being sent once and referenced.
func MuxLATM(accessUnit []byte, p Params) []byte {
	out := make([]byte, 0, 5+len(accessUnit))
	out = append(out, latmSync)
	smc := streamMuxConfigBytes(p)
	out = append(out, smc[:]...)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(accessUnit)))
	out = append(out, lenBuf[:]...)
	out = append(out, accessUnit...)
	return out
}

// DemuxLATM parses a MuxLATM frame, returning the raw access unit and
// the StreamMuxConfig it was framed with.
func DemuxLATM(frame []byte) ([]byte, Params, error) {
	const headerLen = 5
	if len(frame) < headerLen {
		return nil, Params{}, fmt.Errorf("aac: latm frame too short (%d bytes)", len(frame))
	}
	if frame[0] != latmSync {
		return nil, Params{}, fmt.Errorf("aac: latm: bad sync byte 0x%02x", frame[0])
	}
	p, err := parseStreamMuxConfigBytes(frame[1:3])
	if err != nil {
		return nil, Params{}, err
	}
	length := int(binary.BigEndian.Uint16(frame[3:5]))
	if len(frame) < headerLen+length {
		return nil, Params{}, fmt.Errorf("aac: latm frame declares %d bytes, have %d", length, len(frame)-headerLen)
	}
	return frame[headerLen : headerLen+length], p, nil
}

// streamMuxConfigBytes packs object type + channel mode into one byte
// and the sampling rate code into a second.
func streamMuxConfigBytes(p Params) [2]byte {
	var b [2]byte
	b[0] = encodeObjectType(p.Object)
	if p.Channels == ModeStereo {
		b[0] |= 0x01
	}
	b[1] = byte(encodeSamplingRate(p.SamplingHz))
	return b
}

func parseStreamMuxConfigBytes(b []byte) (Params, error) {
	obj, err := decodeObjectType(b[0] &^ 0x01)
	if err != nil {
		return Params{}, err
	}
	hz, err := decodeSamplingRate(uint16(b[1]))
	if err != nil {
		return Params{}, err
	}
	channels := ModeMono
	if b[0]&0x01 != 0 {
		channels = ModeStereo
	}
	return Params{Object: obj, SamplingHz: hz, Channels: channels}, nil
}
