package a2dp

import (
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mvaldez/btaudio/codec/aac"
	"github.com/mvaldez/btaudio/internal/backoff"
	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/worker"
)

func TestAACSourceSinkRoundTrip(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	srcEvent, err := worker.NewEventSignal()
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	defer srcEvent.Close()
	sinkEvent, err := worker.NewEventSignal()
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	defer sinkEvent.Close()

	p := aac.Params{Object: aac.ObjectTypeMPEG4LC, SamplingHz: 44100, Channels: aac.ModeStereo, BitrateBPS: 256000}
	enc, err := aac.NewEncoder(p)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := aac.NewDecoder(p)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	srcPath := mkfifo(t)
	sinkPath := mkfifo(t)
	srcPcm := transport.NewPcm(srcPath, func() {})
	sinkPcm := transport.NewPcm(sinkPath, func() {})

	srcT := &transport.Transport{
		Profile: transport.ProfileA2DPSource, Codec: transport.CodecAAC,
		BTFd: fds[0], EventFD: srcEvent, WriteMTU: 600, State: transport.StateActive,
		A2DP: &transport.A2DPEndpoint{VolumeLeft: 127, VolumeRight: 127},
	}
	sinkT := &transport.Transport{
		Profile: transport.ProfileA2DPSink, Codec: transport.CodecAAC,
		BTFd: fds[1], EventFD: sinkEvent, ReadMTU: 700, State: transport.StateActive,
	}

	srcWorker := NewAACSourceWorker(srcT, srcPcm, enc, p, 5678, 0, true)
	sinkWorker := NewAACSinkWorker(sinkT, sinkPcm, dec, backoff.NewFixedInterval(5, 10*time.Millisecond))

	srcDone := make(chan error, 1)
	sinkDone := make(chan error, 1)
	go func() { srcDone <- srcWorker.Run() }()
	go func() { sinkDone <- sinkWorker.Run() }()

	pcmIn := sinePCMBytes(aac.FrameSize*2, 2)
	if len(pcmIn) != aac.FrameSize*2*2*2 {
		t.Fatalf("test setup: unexpected pcmIn length %d", len(pcmIn))
	}

	writerDone := make(chan error, 1)
	go func() {
		wf, err := os.OpenFile(srcPath, os.O_WRONLY, 0)
		if err != nil {
			writerDone <- err
			return
		}
		if _, err := wf.Write(pcmIn); err != nil {
			writerDone <- err
			return
		}
		writerDone <- wf.Close()
	}()

	decoded := make([]byte, 0, len(pcmIn))
	readerDone := make(chan error, 1)
	go func() {
		rf, err := os.OpenFile(sinkPath, os.O_RDONLY, 0)
		if err != nil {
			readerDone <- err
			return
		}
		defer rf.Close()
		buf := make([]byte, len(pcmIn))
		n, err := io.ReadFull(rf, buf)
		decoded = append(decoded, buf[:n]...)
		readerDone <- err
	}()

	select {
	case err := <-writerDone:
		if err != nil {
			t.Fatalf("pcm writer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out writing source pcm")
	}

	select {
	case err := <-srcDone:
		if err != nil {
			t.Fatalf("source worker: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for source worker")
	}

	select {
	case err := <-readerDone:
		if err != nil {
			t.Fatalf("pcm reader: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out reading decoded pcm")
	}

	if len(decoded) != len(pcmIn) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(pcmIn))
	}

	unix.Close(fds[0])
	select {
	case <-sinkDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for sink worker to observe bt eof")
	}
	unix.Close(fds[1])
}
