package rtpframe

// AACFragment is one RTP-sized chunk of an AAC-LATM audioMuxElement.
type AACFragment struct {
	Payload []byte
	Mark    bool // true on every fragment except the last, per §4.4/§6
}

// FragmentAAC splits an encoded AAC access unit into chunks no larger
// than maxPayload, setting Mark on all but the final fragment. A frame
// that fits in one chunk yields a single fragment with Mark=false.
func FragmentAAC(accessUnit []byte, maxPayload int) []AACFragment {
	if maxPayload <= 0 {
		return nil
	}
	if len(accessUnit) <= maxPayload {
		return []AACFragment{{Payload: accessUnit, Mark: false}}
	}

	var frags []AACFragment
	for off := 0; off < len(accessUnit); off += maxPayload {
		end := off + maxPayload
		if end > len(accessUnit) {
			end = len(accessUnit)
		}
		frags = append(frags, AACFragment{
			Payload: accessUnit[off:end],
			Mark:    end < len(accessUnit),
		})
	}
	return frags
}

// ReassembleAAC concatenates AAC fragments carried across successive RTP
// packets with the same sequence-number run into one access unit. Callers
// accumulate fragments by sequence and call this once the run (the
// fragments up to and including the one with Mark=false) is complete.
func ReassembleAAC(fragments [][]byte) []byte {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range fragments {
		out = append(out, f...)
	}
	return out
}
