// Package sco implements the HFP AG SCO worker loop (§4.8): a three-way
// poll over the control-plane event signal, the BT SCO socket, and the
// speaker PCM pipe, with best-effort PCM attach and BT bandwidth
// acquire/release driven entirely by control-plane events.
package sco

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mvaldez/btaudio/codec/msbc"
	"github.com/mvaldez/btaudio/internal/logging"
	"github.com/mvaldez/btaudio/pacer"
	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/worker"
)

// defaultMSBCPrebuffer mirrors the mSBC encoder's one-frame prebuffer
// before the first write to the SCO socket (§4.7, §4.8).
const defaultMSBCPrebuffer = 1

// cvsdReadCap bounds the buffer used before the CVSD MTU has been
// learned from the first inbound packet.
const cvsdReadCap = 1024

// Worker drives one HFP AG SCO transport for its entire lifetime: on
// every event signal it re-evaluates whether either PCM endpoint is
// wanted, acquiring or releasing the BT SCO connection to match, and
// arms/disarms its poll slots accordingly.
type Worker struct {
	T   *transport.Transport
	Now func() time.Time

	pacer *pacer.IoSync

	msbcEnc *msbc.Encoder
	msbcDec *msbc.Decoder

	// pendingChunks holds wire chunks the last speaker-side write
	// couldn't drain into the BT socket without blocking (§4.8: the
	// PCM-in slot stays disarmed until the encoder's output buffer has
	// room again). Flushed opportunistically off every "bt" wakeup,
	// since SCO traffic is isochronous in both directions and the BT
	// slot keeps firing on its own cadence regardless of mic demand.
	pendingChunks [][]byte

	mtuLearned bool
	btAcquired bool
}

// NewWorker returns a Worker for t. t.Sco must be non-nil.
func NewWorker(t *transport.Transport) *Worker {
	return &Worker{T: t, Now: time.Now}
}

// Run blocks for the lifetime of the transport, returning an error only
// on a condition §7 treats as fatal (BT peer gone with no release path,
// a missing Sco branch). Orderly release of BT bandwidth when both PCM
// endpoints close is not fatal; the worker keeps polling for the next
// attach.
func (w *Worker) Run() error {
	sco := w.T.Sco
	if sco == nil {
		return fmt.Errorf("sco: transport has no Sco branch: %w", transport.ErrInvalidState)
	}

	eventSlot := &worker.Slot{Name: "event", Fd: w.T.EventFD.Fd(), Armed: true}
	btSlot := &worker.Slot{Name: "bt", Armed: false}
	pcmSlot := &worker.Slot{Name: "speaker", Armed: false}
	ps := worker.NewPollset(eventSlot, btSlot, pcmSlot)

	for {
		ready, err := ps.Wait(-1)
		if err != nil {
			return err
		}
		for _, name := range ready {
			switch name {
			case "event":
				if err := w.handleEvent(btSlot, pcmSlot); err != nil {
					return err
				}
			case "bt":
				if err := w.handleBTReadable(pcmSlot); err != nil {
					return err
				}
			case "speaker":
				w.handleSpeakerReadable(pcmSlot)
			}
		}
	}
}

// handleEvent re-reads the control plane's intent: try (non-blockingly)
// to attach both PCM endpoints, acquire BT bandwidth if either attached
// and it wasn't already held, release it if neither is attached and it
// was, and arm/disarm the bt and speaker slots to match (§4.8).
func (w *Worker) handleEvent(btSlot, pcmSlot *worker.Slot) error {
	sco := w.T.Sco
	w.T.EventFD.Drain()

	openedSpeaker, err := sco.SpeakerPcm.TryOpenForRead()
	if err != nil {
		logging.Warn("sco: speaker pcm open failed", "error", err)
	}
	openedMic, err := sco.MicPcm.TryOpenForWrite()
	if err != nil {
		logging.Warn("sco: mic pcm open failed", "error", err)
	}

	if !openedSpeaker && !openedMic {
		if w.btAcquired {
			w.releaseBT()
		}
		btSlot.Armed = false
		pcmSlot.Armed = false
		return nil
	}

	if !w.btAcquired {
		fd, err := w.acquireBT()
		if err != nil {
			return fmt.Errorf("sco: acquire bt: %w", err)
		}
		btSlot.Fd = fd
		btSlot.Armed = true
		w.btAcquired = true
		w.pendingChunks = nil

		if sco.SCOCodec == transport.CodecMSBC {
			if w.msbcEnc == nil {
				w.msbcEnc, err = msbc.NewEncoder(defaultMSBCPrebuffer)
				if err != nil {
					return fmt.Errorf("sco: msbc encoder: %w", err)
				}
			}
			if w.msbcDec == nil {
				w.msbcDec, err = msbc.NewDecoder()
				if err != nil {
					return fmt.Errorf("sco: msbc decoder: %w", err)
				}
			}
			w.pacer = nil // mSBC paces itself through the prebuffer latch, not IoSync
		} else {
			w.pacer = pacer.NewIoSync(8000) // CVSD: 8kHz, paced like any other PCM source
		}
	}

	pcmSlot.Fd = sco.SpeakerPcm.Fd()
	// Keep the speaker slot disarmed while a previous write still has
	// unflushed chunks queued, even if the control plane just asked for
	// it to open back up.
	pcmSlot.Armed = openedSpeaker && len(w.pendingChunks) == 0
	return nil
}

func (w *Worker) acquireBT() (int, error) {
	sco := w.T.Sco
	if sco.AcquireBT != nil {
		fd, err := sco.AcquireBT()
		if err != nil {
			return -1, err
		}
		w.T.SetBTFd(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			return -1, fmt.Errorf("sco: set nonblock: %w", err)
		}
		return fd, nil
	}

	fd := w.T.ReadBTFd()
	if fd < 0 {
		return -1, fmt.Errorf("sco: bt fd not set and no AcquireBT hook configured: %w", transport.ErrInvalidState)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, fmt.Errorf("sco: set nonblock: %w", err)
	}
	return fd, nil
}

func (w *Worker) releaseBT() {
	sco := w.T.Sco
	if fd := w.T.ReadBTFd(); fd >= 0 {
		unix.Close(fd)
		w.T.SetBTFd(-1)
	}
	if sco.ReleaseBT != nil {
		sco.ReleaseBT()
	}
	w.btAcquired = false
	w.mtuLearned = false
	w.pendingChunks = nil
}

// handleBTReadable pumps one inbound unit, BT to speaker, decoding per
// the negotiated SCO codec. It also takes the opportunity to flush any
// chunks a previous speaker-side write couldn't drain, since the BT
// socket only ever wakes this slot on its own isochronous cadence.
func (w *Worker) handleBTReadable(pcmSlot *worker.Slot) error {
	sco := w.T.Sco
	fd := w.T.ReadBTFd()

	if len(w.pendingChunks) > 0 {
		drained, err := w.flushPending(fd)
		if err != nil {
			return err
		}
		if drained && sco.SpeakerPcm.Fd() >= 0 {
			pcmSlot.Armed = true
		}
	}

	switch sco.SCOCodec {
	case transport.CodecMSBC:
		buf := make([]byte, msbc.WireFrameLen)
		n, peerGone, err := readUnit(fd, buf)
		if err != nil {
			if peerGone {
				return fmt.Errorf("sco: bt read: %w", err)
			}
			logging.Warn("sco: bt read failed", "error", err)
			return nil
		}
		if n == 0 {
			return fmt.Errorf("sco: bt socket closed")
		}
		w.msbcDec.Feed(buf[:n])
		blocks, err := w.msbcDec.Decode()
		if err != nil {
			logging.Warn("sco: msbc resync", "error", err)
		}
		if sco.MicPcm.Fd() < 0 {
			return nil
		}
		for _, block := range blocks {
			if _, err := sco.MicPcm.WriteFrames(block, len(block)/2); err != nil {
				logging.Warn("sco: mic pcm write failed", "error", err)
				return nil
			}
		}
		return nil

	case transport.CodecCVSD:
		mtu := w.T.ReadMTU
		size := cvsdReadCap
		if mtu > 0 {
			size = mtu
		}
		buf := make([]byte, size)
		n, peerGone, err := readUnit(fd, buf)
		if err != nil {
			if peerGone {
				return fmt.Errorf("sco: bt read: %w", err)
			}
			logging.Warn("sco: bt read failed", "error", err)
			return nil
		}
		if n == 0 {
			return fmt.Errorf("sco: bt socket closed")
		}
		if !w.mtuLearned {
			w.T.SetMTU(n, n)
			w.mtuLearned = true
		}
		if sco.MicPcm.Fd() < 0 {
			return nil
		}
		if _, err := sco.MicPcm.WriteFrames(buf[:n], n/2); err != nil {
			logging.Warn("sco: mic pcm write failed", "error", err)
		}
		return nil

	default:
		return fmt.Errorf("sco: unsupported sco codec %s", sco.SCOCodec)
	}
}

// handleSpeakerReadable pumps one PCM block, speaker to BT, encoding per
// the negotiated SCO codec; a speaker-side EOF just disarms the slot
// rather than ending the worker, since the mic direction may still be
// live. If the BT socket can't take the encoded output without
// blocking, the remainder is queued in pendingChunks and the slot stays
// disarmed until handleBTReadable drains it (§4.8).
func (w *Worker) handleSpeakerReadable(pcmSlot *worker.Slot) {
	sco := w.T.Sco
	fd := w.T.ReadBTFd()

	switch sco.SCOCodec {
	case transport.CodecMSBC:
		buf := make([]byte, msbc.PCMBlockLen)
		_, err := sco.SpeakerPcm.ReadFrames(buf, msbc.PCMBlockLen/2)
		if err != nil {
			if errors.Is(err, transport.ErrPeerClosed) {
				pcmSlot.Armed = false
				return
			}
			logging.Warn("sco: speaker pcm read failed", "error", err)
			return
		}
		w.msbcEnc.FeedPCM(buf)
		frames, err := w.msbcEnc.Encode()
		if err != nil {
			logging.Warn("sco: msbc encode failed", "error", err)
			return
		}
		w.writeOrQueue(fd, pcmSlot, msbc.WireChunks(frames))

	case transport.CodecCVSD:
		mtu := w.T.WriteMTU
		if mtu <= 0 {
			logging.Warn("sco: cvsd write mtu not yet learned, dropping speaker block")
			return
		}
		buf := make([]byte, mtu)
		n, err := sco.SpeakerPcm.ReadFrames(buf, mtu/2)
		if err != nil {
			if errors.Is(err, transport.ErrPeerClosed) {
				pcmSlot.Armed = false
				return
			}
			logging.Warn("sco: speaker pcm read failed", "error", err)
			return
		}
		w.writeOrQueue(fd, pcmSlot, [][]byte{buf[:n*2]})
		if len(w.pendingChunks) == 0 && w.pacer != nil {
			w.pacer.MarkStarted(w.Now())
			w.pacer.TimeSync(uint32(n), w.Now)
		}

	default:
		logging.Warn("sco: unsupported sco codec", "codec", sco.SCOCodec.String())
	}
}

// writeOrQueue writes chunks to fd in order, stopping at the first one
// that would block; that chunk's unwritten remainder and every chunk
// after it are appended to pendingChunks and the speaker slot is
// disarmed so no further PCM is pulled off the pipe until there's room
// again.
func (w *Worker) writeOrQueue(fd int, pcmSlot *worker.Slot, chunks [][]byte) {
	for i, chunk := range chunks {
		n, gone, err := writeUnitPartial(fd, chunk)
		if err != nil {
			if gone {
				logging.Warn("sco: bt peer gone on write", "error", err)
				pcmSlot.Armed = false
				return
			}
			if errors.Is(err, unix.EAGAIN) {
				w.pendingChunks = append(w.pendingChunks, chunk[n:])
				w.pendingChunks = append(w.pendingChunks, chunks[i+1:]...)
				pcmSlot.Armed = false
				return
			}
			logging.Warn("sco: bt write failed", "error", err)
			continue
		}
	}
}

// flushPending attempts to drain pendingChunks without blocking,
// reporting whether it fully succeeded.
func (w *Worker) flushPending(fd int) (bool, error) {
	for len(w.pendingChunks) > 0 {
		chunk := w.pendingChunks[0]
		n, gone, err := writeUnitPartial(fd, chunk)
		if err != nil {
			if gone {
				return false, fmt.Errorf("sco: bt write: %w", err)
			}
			if errors.Is(err, unix.EAGAIN) {
				w.pendingChunks[0] = chunk[n:]
				return false, nil
			}
			logging.Warn("sco: bt write failed", "error", err)
			w.pendingChunks = w.pendingChunks[1:]
			continue
		}
		w.pendingChunks = w.pendingChunks[1:]
	}
	return true, nil
}

func readUnit(fd int, buf []byte) (int, bool, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, peerGone(err), err
		}
		return n, false, nil
	}
}

// writeUnitPartial attempts a single non-blocking write of buf, retrying
// only on EINTR. It returns the number of bytes actually written; on
// EAGAIN that may be less than len(buf), and the caller is expected to
// resume from buf[n:] once the fd is writable again rather than drop the
// remainder.
func writeUnitPartial(fd int, buf []byte) (int, bool, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Write(fd, buf[total:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return total, peerGone(err), err
		}
		total += n
	}
	return total, false, nil
}

func peerGone(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.ENOTCONN) || errors.Is(err, unix.EPIPE)
}
