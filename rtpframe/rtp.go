// Package rtpframe builds and parses the RTP framing used by both A2DP
// codec pipelines (§4.4): a fixed 12-byte RTP header via pion/rtp, plus
// the SBC one-byte payload header and AAC fragmentation bookkeeping that
// pion/rtp does not model.
package rtpframe

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// PayloadTypeAudio is the dynamic payload type this engine always uses.
const PayloadTypeAudio = 96

// ErrWrongPayloadType is returned by Parse when the header's payload
// type isn't 96; callers drop the packet with a warning per §4.4.
var ErrWrongPayloadType = errors.New("rtpframe: unexpected payload type")

// Framer emits a sequence of RTP packets for one A2DP source transport.
// It owns the monotonically increasing sequence number and timestamp.
type Framer struct {
	SSRC      uint32
	seq       uint16
	timestamp uint32
}

// NewFramer returns a Framer with a caller-chosen (or random) starting
// sequence number and timestamp, matching the original's practice of
// starting from an arbitrary base rather than zero.
func NewFramer(ssrc uint32, startSeq uint16, startTimestamp uint32) *Framer {
	return &Framer{SSRC: ssrc, seq: startSeq, timestamp: startTimestamp}
}

// Next returns an RTP packet with header fields set for the next
// emission: sequence incremented by one (wrapping at 16 bits), timestamp
// unchanged from the prior Advance call. mark and payload are applied
// verbatim to the packet.
func (f *Framer) Next(mark bool, payload []byte) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    PayloadTypeAudio,
			SequenceNumber: f.seq,
			Timestamp:      f.timestamp,
			SSRC:           f.SSRC,
			Marker:         mark,
		},
		Payload: payload,
	}
	f.seq++
	return pkt
}

// Advance moves the RTP timestamp forward by frameCount PCM frames
// (1/sampling-rate ticks) so the next Next() packet carries it.
func (f *Framer) Advance(frameCount uint32) {
	f.timestamp += frameCount
}

// Marshal serializes pkt to the wire.
func Marshal(pkt *rtp.Packet) ([]byte, error) {
	b, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtpframe: marshal: %w", err)
	}
	return b, nil
}

// Parse unmarshals an inbound RTP packet and validates payload type.
func Parse(buf []byte) (*rtp.Packet, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("rtpframe: unmarshal: %w", err)
	}
	if pkt.PayloadType != PayloadTypeAudio {
		return nil, ErrWrongPayloadType
	}
	return pkt, nil
}
