package a2dp

import (
	"errors"
	"fmt"
	"time"

	"github.com/mvaldez/btaudio/codec/aac"
	"github.com/mvaldez/btaudio/internal/logging"
	"github.com/mvaldez/btaudio/pacer"
	"github.com/mvaldez/btaudio/rtpframe"
	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/volume"
	"github.com/mvaldez/btaudio/worker"
)

// AACSourceWorker drives the A2DP source pipeline (§4.6) for a transport
// negotiated with the AAC-LATM codec: one PCM frame per access unit, LATM
// mux, fragment across RTP packets when the muxed frame exceeds MTU.
type AACSourceWorker struct {
	T                 *transport.Transport
	Pcm               *transport.Pcm
	Enc               aac.Encoder
	Params            aac.Params
	Framer            *rtpframe.Framer
	Pacer             *pacer.IoSync
	VolumePassthrough bool
	Now               func() time.Time
}

func NewAACSourceWorker(t *transport.Transport, pcm *transport.Pcm, enc aac.Encoder, p aac.Params, ssrc uint32, startSeq uint16, volumePassthrough bool) *AACSourceWorker {
	return &AACSourceWorker{
		T:                 t,
		Pcm:               pcm,
		Enc:               enc,
		Params:            p,
		Framer:            rtpframe.NewFramer(ssrc, startSeq, 0),
		Pacer:             pacer.NewIoSync(p.SamplingHz),
		VolumePassthrough: volumePassthrough,
		Now:               time.Now,
	}
}

func (w *AACSourceWorker) Run() error {
	mtu := w.T.WriteMTU
	if mtu <= rtpHeaderLen || w.T.ReadBTFd() < 0 {
		return fmt.Errorf("a2dp: aac source: invalid mtu or bt fd at startup: %w", transport.ErrInvalidState)
	}
	maxPayload := mtu - rtpHeaderLen
	channels := aacChannels(w.Params.Channels)
	wantSamples := aac.FrameSize * channels

	if err := w.Pcm.OpenForRead(); err != nil {
		return fmt.Errorf("a2dp: aac source: %w", err)
	}

	ps := worker.NewPollset(
		&worker.Slot{Name: "event", Fd: w.T.EventFD.Fd(), Armed: true},
		&worker.Slot{Name: "pcm", Fd: w.Pcm.Fd(), Armed: true},
	)
	readBuf := make([]byte, wantSamples*2)

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
				n, err := w.Pcm.ReadFrames(readBuf, wantSamples)
				if err != nil {
					if errors.Is(err, transport.ErrPeerClosed) {
						return nil
					}
					return err
				}
				if n == 0 {
					return nil
				}
				w.Pacer.MarkStarted(w.Now())

				pcm := bytesToInt16(readBuf)
				if !w.VolumePassthrough && w.T.A2DP != nil {
					ep := w.T.A2DP
					volume.Scale(pcm, channels, ep.VolumeLeft, ep.VolumeRight, ep.MuteLeft, ep.MuteRight, false)
				}

				accessUnit, err := w.Enc.Encode(pcm)
				if err != nil {
					logging.Warn("a2dp aac source: encode failed", "error", err)
					continue
				}
				latmFrame := aac.MuxLATM(accessUnit, w.Params)

				if err := w.emit(latmFrame, maxPayload, uint32(aac.FrameSize)); err != nil {
					return err
				}
			}
		}
	}
}

func (w *AACSourceWorker) emit(latmFrame []byte, maxPayload int, pcmFrames uint32) error {
	frags := rtpframe.FragmentAAC(latmFrame, maxPayload)
	for i, frag := range frags {
		pkt := w.Framer.Next(frag.Mark, frag.Payload)
		if i == len(frags)-1 {
			w.Framer.Advance(pcmFrames)
		}

		wire, err := rtpframe.Marshal(pkt)
		if err != nil {
			return fmt.Errorf("a2dp: aac source: %w", err)
		}
		peerGone, werr := writeSocket(w.T.ReadBTFd(), wire)
		if werr != nil {
			if peerGone {
				return fmt.Errorf("a2dp: aac source: bt write: %w", werr)
			}
			logging.Warn("a2dp aac source: bt write failed", "error", werr)
			continue
		}
	}
	w.Pacer.TimeSync(pcmFrames, w.Now)
	return nil
}
