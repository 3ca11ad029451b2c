package sco

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/worker"
)

func mkfifo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pcm.fifo")
	if err := unix.Mkfifo(path, 0600); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	return path
}

// signalUntil retries Signal on a short interval until stop is closed,
// for tests where a FIFO rendezvous may not land on the first event.
func signalUntil(sig *worker.EventSignal, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sig.Signal()
		}
	}
}

func TestSCOWorkerCVSDMicDirection(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	ev, err := worker.NewEventSignal()
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	defer ev.Close()

	micPath := mkfifo(t)
	sb := &transport.ScoBranch{
		SpeakerPcm: transport.NewPcm("", nil),
		MicPcm:     transport.NewPcm(micPath, func() {}),
		SCOCodec:   transport.CodecCVSD,
	}
	tr := &transport.Transport{
		Profile: transport.ProfileHFPAGSco, Codec: transport.CodecCVSD,
		BTFd: fds[0], EventFD: ev, State: transport.StateActive, Sco: sb,
	}

	w := NewWorker(tr)
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run() }()

	stopSignaling := make(chan struct{})
	go signalUntil(ev, stopSignaling)

	readerDone := make(chan error, 1)
	var decoded []byte
	go func() {
		rf, err := os.OpenFile(micPath, os.O_RDONLY, 0)
		if err != nil {
			readerDone <- err
			return
		}
		defer rf.Close()
		buf := make([]byte, 48)
		n, err := io.ReadFull(rf, buf)
		decoded = buf[:n]
		readerDone <- err
	}()

	// Give the worker a chance to win the FIFO rendezvous before writing
	// the simulated inbound CVSD packet that establishes the MTU.
	time.Sleep(50 * time.Millisecond)

	payload := make([]byte, 48)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := unix.Write(fds[1], payload); err != nil {
		t.Fatalf("write bt payload: %v", err)
	}

	select {
	case err := <-readerDone:
		close(stopSignaling)
		if err != nil {
			t.Fatalf("mic pcm reader: %v", err)
		}
	case <-time.After(5 * time.Second):
		close(stopSignaling)
		t.Fatalf("timed out waiting for mic pcm")
	}

	if len(decoded) != len(payload) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(payload))
	}
	for i := range payload {
		if decoded[i] != payload[i] {
			t.Fatalf("byte %d = %v, want %v (CVSD passthrough)", i, decoded[i], payload[i])
		}
	}

	unix.Close(fds[0])
	unix.Close(fds[1])
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for worker to exit")
	}
}

// TestSCOWorkerMSBCSpeakerBackpressureNoDataLoss covers §4.8's mandatory
// "disarm the speaker-PCM slot until the encoder's output buffer has
// room again": the worker's BT socket is forced into a tiny send buffer
// so writes EAGAIN partway through, and the test asserts every encoded
// mSBC frame still arrives, in order, none dropped.
func TestSCOWorkerMSBCSpeakerBackpressureNoDataLoss(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	// Clamped by the kernel to a small floor, but still far smaller than
	// the total encoded payload below, so writes reliably EAGAIN.
	if err := unix.SetsockoptInt(fds[0], unix.SOL_SOCKET, unix.SO_SNDBUF, 1); err != nil {
		t.Fatalf("setsockopt sndbuf: %v", err)
	}

	ev, err := worker.NewEventSignal()
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	defer ev.Close()

	speakerPath := mkfifo(t)
	sb := &transport.ScoBranch{
		SpeakerPcm: transport.NewPcm(speakerPath, func() {}),
		MicPcm:     transport.NewPcm("", nil),
		SCOCodec:   transport.CodecMSBC,
	}
	tr := &transport.Transport{
		Profile: transport.ProfileHFPAGSco, Codec: transport.CodecMSBC,
		BTFd: fds[0], EventFD: ev, State: transport.StateActive, Sco: sb,
	}

	w := NewWorker(tr)
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run() }()

	if err := ev.Signal(); err != nil {
		t.Fatalf("signal: %v", err)
	}

	// A real SCO link carries inbound audio on a fixed isochronous
	// cadence regardless of mic demand; simulate that so the worker's
	// opportunistic pending-chunk flush (triggered off "bt" readability)
	// has something to wake it up. Content is irrelevant: the mic path
	// is unattached in this test, so decode failures are just logged.
	pumpStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(3 * time.Millisecond)
		defer ticker.Stop()
		ping := []byte{0}
		for {
			select {
			case <-pumpStop:
				return
			case <-ticker.C:
				unix.Write(fds[1], ping)
			}
		}
	}()

	const blocks = 200
	payload := make([]byte, blocks*240)
	for i := range payload {
		payload[i] = byte(i)
	}

	writerDone := make(chan error, 1)
	go func() {
		wf, err := os.OpenFile(speakerPath, os.O_WRONLY, 0)
		if err != nil {
			writerDone <- err
			return
		}
		if _, err := wf.Write(payload); err != nil {
			writerDone <- err
			return
		}
		writerDone <- wf.Close()
	}()

	select {
	case err := <-writerDone:
		if err != nil {
			t.Fatalf("speaker pcm writer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out writing speaker pcm")
	}

	const wireFrameLen = 59
	want := blocks * wireFrameLen

	btReadDone := make(chan error, 1)
	got := make([]byte, 0, want)
	go func() {
		buf := make([]byte, 512)
		for len(got) < want {
			n, err := unix.Read(fds[1], buf)
			if err != nil {
				btReadDone <- err
				return
			}
			if n == 0 {
				btReadDone <- io.ErrUnexpectedEOF
				return
			}
			got = append(got, buf[:n]...)
		}
		btReadDone <- nil
	}()

	select {
	case err := <-btReadDone:
		if err != nil {
			t.Fatalf("read bt payload: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out reading bt payload (got %d of %d bytes): data lost under backpressure", len(got), want)
	}

	if len(got) != want {
		t.Fatalf("got %d bytes off the bt socket, want %d", len(got), want)
	}

	wantH2Second := [4]byte{0x08, 0x38, 0xC8, 0xF8}
	for i := 0; i < blocks; i++ {
		frame := got[i*wireFrameLen : (i+1)*wireFrameLen]
		if frame[0] != 0x01 {
			t.Fatalf("frame %d: h2 byte0 = %#x, want 0x01", i, frame[0])
		}
		if frame[1] != wantH2Second[i%4] {
			t.Fatalf("frame %d: h2 byte1 = %#x, want %#x", i, frame[1], wantH2Second[i%4])
		}
		if frame[2] != 0xAD {
			t.Fatalf("frame %d: sync byte = %#x, want 0xAD", i, frame[2])
		}
	}

	close(pumpStop)
	unix.Close(fds[0])
	unix.Close(fds[1])
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for worker to exit")
	}
}

func TestSCOWorkerCVSDSpeakerDirection(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	ev, err := worker.NewEventSignal()
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	defer ev.Close()

	speakerPath := mkfifo(t)
	sb := &transport.ScoBranch{
		SpeakerPcm: transport.NewPcm(speakerPath, func() {}),
		MicPcm:     transport.NewPcm("", nil),
		SCOCodec:   transport.CodecCVSD,
	}
	tr := &transport.Transport{
		Profile: transport.ProfileHFPAGSco, Codec: transport.CodecCVSD,
		BTFd: fds[0], EventFD: ev, State: transport.StateActive, Sco: sb,
		ReadMTU: 48, WriteMTU: 48, // CVSD MTU known up front on this path
	}

	w := NewWorker(tr)
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run() }()

	if err := ev.Signal(); err != nil {
		t.Fatalf("signal: %v", err)
	}

	writerDone := make(chan error, 1)
	payload := make([]byte, 48)
	for i := range payload {
		payload[i] = byte(i)
	}
	go func() {
		wf, err := os.OpenFile(speakerPath, os.O_WRONLY, 0)
		if err != nil {
			writerDone <- err
			return
		}
		if _, err := wf.Write(payload); err != nil {
			writerDone <- err
			return
		}
		writerDone <- wf.Close()
	}()

	select {
	case err := <-writerDone:
		if err != nil {
			t.Fatalf("speaker pcm writer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out writing speaker pcm")
	}

	btReadDone := make(chan error, 1)
	buf := make([]byte, len(payload))
	go func() {
		n, err := unix.Read(fds[1], buf)
		if err == nil && n != len(payload) {
			err = io.ErrUnexpectedEOF
		}
		btReadDone <- err
	}()

	select {
	case err := <-btReadDone:
		if err != nil {
			t.Fatalf("read bt payload: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out reading bt payload")
	}
	for i := range payload {
		if buf[i] != payload[i] {
			t.Fatalf("byte %d = %v, want %v (CVSD passthrough)", i, buf[i], payload[i])
		}
	}

	unix.Close(fds[0])
	unix.Close(fds[1])
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for worker to exit")
	}
}
