package a2dp

import (
	"fmt"

	"github.com/mvaldez/btaudio/codec/aac"
	"github.com/mvaldez/btaudio/internal/backoff"
	"github.com/mvaldez/btaudio/internal/logging"
	"github.com/mvaldez/btaudio/rtpframe"
	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/worker"
)

// AACSinkWorker drives the A2DP sink pipeline (§4.6) for a transport
// negotiated with the AAC-LATM codec: reassemble RTP fragments by
// sequence run, LATM-demux, decode, write PCM out.
type AACSinkWorker struct {
	T         *transport.Transport
	Pcm       *transport.Pcm
	Dec       aac.Decoder
	OpenRetry *backoff.FixedInterval

	pending [][]byte
}

func NewAACSinkWorker(t *transport.Transport, pcm *transport.Pcm, dec aac.Decoder, openRetry *backoff.FixedInterval) *AACSinkWorker {
	return &AACSinkWorker{T: t, Pcm: pcm, Dec: dec, OpenRetry: openRetry}
}

func (w *AACSinkWorker) Run() error {
	if w.T.ReadBTFd() < 0 || w.T.ReadMTU <= 0 {
		return fmt.Errorf("a2dp: aac sink: invalid bt fd or mtu at startup: %w", transport.ErrInvalidState)
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
						return fmt.Errorf("a2dp: aac sink: bt read: %w", err)
					}
					logging.Warn("a2dp aac sink: bt read failed", "error", err)
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

func (w *AACSinkWorker) handlePacket(buf []byte) {
	pkt, err := rtpframe.Parse(buf)
	if err != nil {
		logging.Warn("a2dp aac sink: dropping packet", "error", err)
		return
	}

	w.pending = append(w.pending, append([]byte{}, pkt.Payload...))
	if pkt.Marker {
		// Not the final fragment of this access unit; wait for more.
		return
	}

	latmFrame := rtpframe.ReassembleAAC(w.pending)
	w.pending = nil

	accessUnit, _, err := aac.DemuxLATM(latmFrame)
	if err != nil {
		logging.Warn("a2dp aac sink: latm demux failed", "error", err)
		return
	}

	pcm, err := w.Dec.Decode(accessUnit)
	if err != nil {
		logging.Warn("a2dp aac sink: decode failed", "error", err)
		return
	}

	if w.Pcm.Path == "" {
		return
	}
	if w.Pcm.Fd() < 0 {
		if err := w.Pcm.OpenForWrite(w.OpenRetry); err != nil {
			logging.Warn("a2dp aac sink: pcm open failed", "error", err)
			return
		}
	}
	if _, err := w.Pcm.WriteFrames(int16ToBytes(pcm), len(pcm)); err != nil {
		logging.Warn("a2dp aac sink: pcm write failed", "error", err)
	}
}
