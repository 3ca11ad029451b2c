package rtpframe

import (
	"testing"
)

func TestFramerSequenceAndTimestamp(t *testing.T) {
	f := NewFramer(0xdeadbeef, 1000, 5000)

	p1 := f.Next(false, []byte{0x01, 0xAA})
	if p1.Version != 2 || p1.PayloadType != PayloadTypeAudio {
		t.Fatalf("unexpected header fields: %+v", p1.Header)
	}
	if p1.SequenceNumber != 1000 {
		t.Fatalf("seq = %d, want 1000", p1.SequenceNumber)
	}
	if p1.Timestamp != 5000 {
		t.Fatalf("timestamp = %d, want 5000", p1.Timestamp)
	}

	f.Advance(960)
	p2 := f.Next(false, []byte{0x01, 0xBB})
	if p2.SequenceNumber != 1001 {
		t.Fatalf("seq = %d, want 1001", p2.SequenceNumber)
	}
	if p2.Timestamp != 5960 {
		t.Fatalf("timestamp = %d, want 5960", p2.Timestamp)
	}
}

func TestFramerSequenceWraps(t *testing.T) {
	f := NewFramer(1, 0xFFFF, 0)
	p1 := f.Next(false, nil)
	p2 := f.Next(false, nil)
	if p1.SequenceNumber != 0xFFFF {
		t.Fatalf("seq1 = %d, want 0xFFFF", p1.SequenceNumber)
	}
	if p2.SequenceNumber != 0 {
		t.Fatalf("seq2 = %d, want 0 (wrapped)", p2.SequenceNumber)
	}
}

func TestMarshalParseRoundTrip(t *testing.T) {
	f := NewFramer(42, 7, 100)
	pkt := f.Next(true, []byte{0x02, 0x01, 0x02, 0x03})

	wire, err := Marshal(pkt)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.SequenceNumber != 7 || got.Timestamp != 100 || got.SSRC != 42 {
		t.Fatalf("unexpected parsed header: %+v", got.Header)
	}
	if !got.Marker {
		t.Fatalf("marker bit lost in round trip")
	}
}

func TestParseRejectsWrongPayloadType(t *testing.T) {
	f := NewFramer(1, 0, 0)
	pkt := f.Next(false, []byte{1})
	pkt.PayloadType = 97
	wire, _ := Marshal(pkt)

	if _, err := Parse(wire); err != ErrWrongPayloadType {
		t.Fatalf("got %v, want ErrWrongPayloadType", err)
	}
}

func TestSBCHeaderRoundTrip(t *testing.T) {
	b, err := EncodeSBCHeader(5)
	if err != nil {
		t.Fatalf("EncodeSBCHeader: %v", err)
	}
	if DecodeSBCHeader(b) != 5 {
		t.Fatalf("DecodeSBCHeader = %d, want 5", DecodeSBCHeader(b))
	}
	if _, err := EncodeSBCHeader(16); err == nil {
		t.Fatalf("expected error for frame count 16")
	}
}

func TestFragmentAACMarksAllButLast(t *testing.T) {
	accessUnit := make([]byte, 1100)
	for i := range accessUnit {
		accessUnit[i] = byte(i)
	}
	frags := FragmentAAC(accessUnit, 588)
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	if len(frags[0].Payload) != 588 || !frags[0].Mark {
		t.Fatalf("fragment 0: len=%d mark=%v, want len=588 mark=true", len(frags[0].Payload), frags[0].Mark)
	}
	if len(frags[1].Payload) != 512 || frags[1].Mark {
		t.Fatalf("fragment 1: len=%d mark=%v, want len=512 mark=false", len(frags[1].Payload), frags[1].Mark)
	}

	reassembled := ReassembleAAC([][]byte{frags[0].Payload, frags[1].Payload})
	if len(reassembled) != len(accessUnit) {
		t.Fatalf("reassembled length %d, want %d", len(reassembled), len(accessUnit))
	}
}

func TestFragmentAACSingleFragmentNoMark(t *testing.T) {
	frags := FragmentAAC([]byte{1, 2, 3}, 100)
	if len(frags) != 1 || frags[0].Mark {
		t.Fatalf("single-fragment frame should have Mark=false, got %+v", frags)
	}
}
