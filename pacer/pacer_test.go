package pacer

import (
	"testing"
	"time"
)

func TestTimeSyncAnchorsOnFirstRead(t *testing.T) {
	s := NewIoSync(48000)
	if s.started {
		t.Fatalf("new IoSync should not be started")
	}
	base := time.Now()
	s.MarkStarted(base)
	if !s.started || s.ts0 != base {
		t.Fatalf("MarkStarted did not anchor ts0")
	}
	s.MarkStarted(base.Add(time.Hour))
	if s.ts0 != base {
		t.Fatalf("MarkStarted re-anchored after first call")
	}
}

func TestTimeSyncReturnsDurationAndPaces(t *testing.T) {
	s := NewIoSync(48000)
	base := time.Now()
	s.MarkStarted(base)

	// Simulate wall clock that has barely moved: the pacer should sleep
	// roughly up to the frame duration minus the 10ms lead tolerance.
	dur := s.TimeSync(4800, func() time.Time { return base }) // 100ms of audio
	if dur != 100*time.Millisecond {
		t.Fatalf("got duration %v, want 100ms", dur)
	}
	if s.Frames() != 4800 {
		t.Fatalf("frame counter = %d, want 4800", s.Frames())
	}
}

func TestResetReanchors(t *testing.T) {
	s := NewIoSync(8000)
	s.MarkStarted(time.Now())
	s.TimeSync(800, time.Now)
	s.Reset()
	if s.Frames() != 0 || s.started {
		t.Fatalf("Reset did not clear frame counter/started flag")
	}
}

func TestFramesToDuration(t *testing.T) {
	cases := []struct {
		frames uint32
		hz     int
		want   time.Duration
	}{
		{48000, 48000, time.Second},
		{4800, 48000, 100 * time.Millisecond},
		{240, 16000, 15 * time.Millisecond},
	}
	for _, c := range cases {
		got := framesToDuration(c.frames, c.hz)
		if got != c.want {
			t.Fatalf("framesToDuration(%d, %d) = %v, want %v", c.frames, c.hz, got, c.want)
		}
	}
}
