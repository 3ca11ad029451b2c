// Package pacer implements the rate pacer (§4.2): it keeps transmission
// no more than 10ms ahead of audio time, anchored to the first PCM read
// rather than worker start.
package pacer

import "time"

// IoSync is the pacing state for one direction of one transport.
type IoSync struct {
	ts0        time.Time
	frames     uint32
	started    bool
	SamplingHz int
}

// NewIoSync returns pacing state for the given sampling rate; Reset must
// be called again whenever the PCM pipe is reopened.
func NewIoSync(samplingHz int) *IoSync {
	return &IoSync{SamplingHz: samplingHz}
}

// Reset zeroes the frame counter so the pacer re-anchors on the next
// nonzero PCM read, per §4.2's invariant.
func (s *IoSync) Reset() {
	s.frames = 0
	s.started = false
}

// Frames reports the cumulative frame counter.
func (s *IoSync) Frames() uint32 { return s.frames }

// MarkStarted anchors ts0 on the first nonzero PCM read if not already
// anchored. Callers invoke this once per buffer before TimeSync.
func (s *IoSync) MarkStarted(now time.Time) {
	if !s.started {
		s.ts0 = now
		s.started = true
	}
}

// TimeSync advances the frame counter by frames just transmitted, sleeps
// as needed to stay within 10ms of audio time, and returns the playback
// duration those frames represent (used to advance an RTP timestamp).
//
// Mirrors io_thread_time_sync: target = (frames - sampling/100) against
// ts0; if target exceeds elapsed wall time, sleep the difference.
func (s *IoSync) TimeSync(frames uint32, now func() time.Time) time.Duration {
	s.frames += frames

	leadFrames := int64(s.frames) - int64(s.SamplingHz)/100
	var target time.Duration
	if leadFrames > 0 {
		target = framesToDuration(uint32(leadFrames), s.SamplingHz)
	}

	elapsed := now().Sub(s.ts0)
	if target > elapsed {
		time.Sleep(target - elapsed)
	}

	return framesToDuration(frames, s.SamplingHz)
}

func framesToDuration(frames uint32, samplingHz int) time.Duration {
	if samplingHz <= 0 {
		return 0
	}
	sec := int64(frames) / int64(samplingHz)
	rem := int64(frames) % int64(samplingHz)
	micros := sec*1_000_000 + (1_000_000*rem)/int64(samplingHz)
	return time.Duration(micros) * time.Microsecond
}
