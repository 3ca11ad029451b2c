package a2dp

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mvaldez/btaudio/codec/sbc"
	"github.com/mvaldez/btaudio/internal/backoff"
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

func sinePCMBytes(nSamplesPerChannel, channels int) []byte {
	out := make([]int16, nSamplesPerChannel*channels)
	for i := 0; i < nSamplesPerChannel; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/44100))
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = v
		}
	}
	return int16ToBytes(out)
}

func TestSBCSourceSinkRoundTrip(t *testing.T) {
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

	h := sbc.Header{SamplingHz: 44100, Blocks: 16, Channels: sbc.ModeStereo, Alloc: sbc.AllocSNR, Subbands: 8, Bitpool: 32}
	enc, err := sbc.NewEncoder(h)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := sbc.NewDecoder(h)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	srcPath := mkfifo(t)
	sinkPath := mkfifo(t)
	srcPcm := transport.NewPcm(srcPath, func() {})
	sinkPcm := transport.NewPcm(sinkPath, func() {})

	srcT := &transport.Transport{
		Profile: transport.ProfileA2DPSource, Codec: transport.CodecSBC,
		BTFd: fds[0], EventFD: srcEvent, WriteMTU: 200, State: transport.StateActive,
		A2DP: &transport.A2DPEndpoint{VolumeLeft: 127, VolumeRight: 127},
	}
	sinkT := &transport.Transport{
		Profile: transport.ProfileA2DPSink, Codec: transport.CodecSBC,
		BTFd: fds[1], EventFD: sinkEvent, ReadMTU: 200, State: transport.StateActive,
	}

	srcWorker := NewSBCSourceWorker(srcT, srcPcm, enc, 1234, 0, true)
	sinkWorker := NewSBCSinkWorker(sinkT, sinkPcm, dec, backoff.NewFixedInterval(5, 10*time.Millisecond))

	srcDone := make(chan error, 1)
	sinkDone := make(chan error, 1)
	go func() { srcDone <- srcWorker.Run() }()
	go func() { sinkDone <- sinkWorker.Run() }()

	codeSize := h.CodeSize()
	pcmIn := sinePCMBytes(h.Blocks*h.Subbands*3, 2)
	if len(pcmIn) != codeSize*3 {
		t.Fatalf("test setup: pcmIn length = %d, want %d", len(pcmIn), codeSize*3)
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
