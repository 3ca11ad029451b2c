package volume

import "testing"

func TestScaleIdentityAtMaxVolume(t *testing.T) {
	samples := []int16{100, -200, 30000, -30000}
	got := append([]int16(nil), samples...)
	Scale(got, 2, MaxVolume, MaxVolume, false, false, false)
	for i, v := range got {
		diff := int(v) - int(samples[i])
		if diff < -1 || diff > 1 {
			t.Fatalf("sample %d: got %d, want within 1 LSB of %d", i, v, samples[i])
		}
	}
}

func TestScaleMuteProducesSilence(t *testing.T) {
	samples := []int16{1234, -5678, 42, -42}
	Scale(samples, 2, 64, 64, true, true, false)
	for i, v := range samples {
		if v != 0 {
			t.Fatalf("sample %d: got %d, want 0 when muted", i, v)
		}
	}
}

func TestScalePassthroughSkipsEntirely(t *testing.T) {
	samples := []int16{1, 2, 3, 4}
	want := append([]int16(nil), samples...)
	Scale(samples, 2, 0, 0, true, true, true)
	for i, v := range samples {
		if v != want[i] {
			t.Fatalf("passthrough mutated sample %d: got %d want %d", i, v, want[i])
		}
	}
}

func TestScaleMonoUsesLeftOnly(t *testing.T) {
	samples := []int16{1000, 2000, 3000}
	Scale(samples, 1, MaxVolume, 0, false, true, false)
	for i, v := range samples {
		if v == 0 {
			t.Fatalf("sample %d: mono channel used right(muted) gain instead of left", i)
		}
	}
}
