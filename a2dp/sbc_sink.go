package a2dp

import (
	"fmt"

	"github.com/mvaldez/btaudio/codec/sbc"
	"github.com/mvaldez/btaudio/internal/backoff"
	"github.com/mvaldez/btaudio/internal/logging"
	"github.com/mvaldez/btaudio/rtpframe"
	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/worker"
)

// SBCSinkWorker drives the A2DP sink pipeline (§4.5) for a transport
// negotiated with the SBC codec: parse inbound RTP, decode as many SBC
// frames as the payload header declares, write decoded PCM out.
type SBCSinkWorker struct {
	T         *transport.Transport
	Pcm       *transport.Pcm
	Dec       *sbc.Decoder
	OpenRetry *backoff.FixedInterval
}

func NewSBCSinkWorker(t *transport.Transport, pcm *transport.Pcm, dec *sbc.Decoder, openRetry *backoff.FixedInterval) *SBCSinkWorker {
	return &SBCSinkWorker{T: t, Pcm: pcm, Dec: dec, OpenRetry: openRetry}
}

func (w *SBCSinkWorker) Run() error {
	if w.T.ReadBTFd() < 0 || w.T.ReadMTU <= 0 {
		return fmt.Errorf("a2dp: sbc sink: invalid bt fd or mtu at startup: %w", transport.ErrInvalidState)
	}

	ps := worker.NewPollset(
		&worker.Slot{Name: "event", Fd: w.T.EventFD.Fd(), Armed: true},
		&worker.Slot{Name: "bt", Fd: w.T.ReadBTFd(), Armed: true},
	)
	btBuf := make([]byte, w.T.ReadMTU)

	for {
		ready, err := ps.Wait(-1)
		if err != nil {
			return err
		}
		for _, name := range ready {
			switch name {
			case "event":
				w.T.EventFD.Drain()

			case "bt":
				n, peerGone, err := readSocket(w.T.ReadBTFd(), btBuf)
				if err != nil {
					if peerGone {
						return fmt.Errorf("a2dp: sbc sink: bt read: %w", err)
					}
					logging.Warn("a2dp sbc sink: bt read failed", "error", err)
					continue
				}
				if n == 0 {
					return nil
				}
				w.handlePacket(btBuf[:n])
			}
		}
	}
}

func (w *SBCSinkWorker) handlePacket(buf []byte) {
	pkt, err := rtpframe.Parse(buf)
	if err != nil {
		logging.Warn("a2dp sbc sink: dropping packet", "error", err)
		return
	}
	if len(pkt.Payload) < 1 {
		logging.Warn("a2dp sbc sink: empty payload")
		return
	}

	frameCount := rtpframe.DecodeSBCHeader(pkt.Payload[0])
	body := pkt.Payload[1:]

	// PCM is opened lazily; skip this packet entirely if nothing wants it
	// yet (§4.5: "skip this packet if the pipe is not yet wanted").
	if w.Pcm.Path == "" {
		return
	}
	if w.Pcm.Fd() < 0 {
		if err := w.Pcm.OpenForWrite(w.OpenRetry); err != nil {
			logging.Warn("a2dp sbc sink: pcm open failed", "error", err)
			return
		}
	}

	frameLen := w.Dec.Header().FrameLength()
	for i := 0; i < frameCount; i++ {
		if len(body) < frameLen {
			logging.Warn("a2dp sbc sink: frame_count exceeds remaining payload", "declared", frameCount, "decoded", i)
			break
		}
		pcm, err := w.Dec.Decode(body[:frameLen])
		if err != nil {
			logging.Warn("a2dp sbc sink: decode failed", "error", err)
			break
		}
		body = body[frameLen:]

		if _, err := w.Pcm.WriteFrames(int16ToBytes(pcm), len(pcm)); err != nil {
			logging.Warn("a2dp sbc sink: pcm write failed", "error", err)
			return
		}
	}
}
