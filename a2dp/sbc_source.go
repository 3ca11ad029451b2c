package a2dp

import (
	"errors"
	"fmt"
	"time"

	"github.com/mvaldez/btaudio/codec/sbc"
	"github.com/mvaldez/btaudio/internal/logging"
	"github.com/mvaldez/btaudio/pacer"
	"github.com/mvaldez/btaudio/rtpframe"
	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/volume"
	"github.com/mvaldez/btaudio/worker"
)

// SBCSourceWorker drives the A2DP source pipeline (§4.5) for a transport
// negotiated with the SBC codec: block-read PCM, volume-scale, pack as
// many SBC frames as fit one MTU, RTP-frame, pace, write to the socket.
type SBCSourceWorker struct {
	T                 *transport.Transport
	Pcm               *transport.Pcm
	Enc               *sbc.Encoder
	Framer            *rtpframe.Framer
	Pacer             *pacer.IoSync
	VolumePassthrough bool
	Now               func() time.Time
}

// NewSBCSourceWorker wires up pacer/framer state for enc's header.
func NewSBCSourceWorker(t *transport.Transport, pcm *transport.Pcm, enc *sbc.Encoder, ssrc uint32, startSeq uint16, volumePassthrough bool) *SBCSourceWorker {
	return &SBCSourceWorker{
		T:                 t,
		Pcm:               pcm,
		Enc:               enc,
		Framer:            rtpframe.NewFramer(ssrc, startSeq, 0),
		Pacer:             pacer.NewIoSync(enc.Header().SamplingHz),
		VolumePassthrough: volumePassthrough,
		Now:               time.Now,
	}
}

// Run blocks for the lifetime of the transport. It returns nil on an
// orderly PCM EOF, or an error on fatal BT-socket conditions (§7).
func (w *SBCSourceWorker) Run() error {
	h := w.Enc.Header()
	frameLen := h.FrameLength()
	codeSize := h.CodeSize()
	maxPayload := w.T.WriteMTU - rtpHeaderLen - rtpframe.SBCPayloadHeaderLen
	if maxPayload <= 0 || w.T.ReadBTFd() < 0 {
		return fmt.Errorf("a2dp: sbc source: invalid mtu or bt fd at startup: %w", transport.ErrInvalidState)
	}
	framesPerPacket := maxPayload / frameLen
	if framesPerPacket < 1 {
		return fmt.Errorf("a2dp: sbc source: mtu %d too small for one SBC frame (%d bytes)", w.T.WriteMTU, frameLen)
	}
	inBufSize := codeSize * framesPerPacket
	samplesPerFrame := h.Blocks * h.Subbands
	channels := numChannels(h.Channels)

	if err := w.Pcm.OpenForRead(); err != nil {
		return fmt.Errorf("a2dp: sbc source: %w", err)
	}

	ps := worker.NewPollset(
		&worker.Slot{Name: "event", Fd: w.T.EventFD.Fd(), Armed: true},
		&worker.Slot{Name: "pcm", Fd: w.Pcm.Fd(), Armed: true},
	)

	var pending []byte
	readBuf := make([]byte, inBufSize)

	for {
		ready, err := ps.Wait(-1)
		if err != nil {
			return err
		}
		for _, name := range ready {
			switch name {
			case "event":
				w.T.EventFD.Drain()
				w.Pacer.Reset()

			case "pcm":
				if err := w.handlePCM(&pending, readBuf, inBufSize, codeSize, frameLen, maxPayload, samplesPerFrame, channels); err != nil {
					if errors.Is(err, transport.ErrPeerClosed) {
						return nil
					}
					return err
				}
			}
		}
	}
}

func (w *SBCSourceWorker) handlePCM(pending *[]byte, readBuf []byte, inBufSize, codeSize, frameLen, maxPayload, samplesPerFrame, channels int) error {
	free := inBufSize - len(*pending)
	if free < 2 {
		return nil
	}
	n, err := w.Pcm.ReadFrames(readBuf[:free], free/2)
	if err != nil {
		return err
	}
	w.Pacer.MarkStarted(w.Now())

	buf := append(append([]byte{}, *pending...), readBuf[:n*2]...)
	*pending = nil

	if !w.VolumePassthrough && w.T.A2DP != nil {
		ep := w.T.A2DP
		samples := bytesToInt16(buf)
		volume.Scale(samples, channels, ep.VolumeLeft, ep.VolumeRight, ep.MuteLeft, ep.MuteRight, false)
		buf = int16ToBytes(samples)
	}

	out := make([]byte, 0, maxPayload)
	framesPacked := 0
	for len(buf) >= codeSize && len(out)+frameLen <= maxPayload {
		frame, err := w.Enc.Encode(bytesToInt16(buf[:codeSize]))
		if err != nil {
			return fmt.Errorf("a2dp: sbc source: encode: %w", err)
		}
		out = append(out, frame...)
		buf = buf[codeSize:]
		framesPacked++
	}
	*pending = append(*pending, buf...)

	if framesPacked == 0 {
		return nil
	}
	return w.emit(out, framesPacked, uint32(framesPacked*samplesPerFrame))
}

func (w *SBCSourceWorker) emit(encoded []byte, frameCount int, pcmFrames uint32) error {
	hdr, err := rtpframe.EncodeSBCHeader(frameCount)
	if err != nil {
		return fmt.Errorf("a2dp: sbc source: %w", err)
	}
	payload := make([]byte, 0, 1+len(encoded))
	payload = append(payload, hdr)
	payload = append(payload, encoded...)

	pkt := w.Framer.Next(false, payload)
	w.Framer.Advance(pcmFrames)

	wire, err := rtpframe.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("a2dp: sbc source: %w", err)
	}

	peerGone, werr := writeSocket(w.T.ReadBTFd(), wire)
	if werr != nil {
		if peerGone {
			return fmt.Errorf("a2dp: sbc source: bt write: %w", werr)
		}
		// Non-fatal write error: log and continue per §7.
		logging.Warn("a2dp sbc source: bt write failed", "error", werr)
		return nil
	}

	w.Pacer.TimeSync(pcmFrames, w.Now)
	return nil
}
