package rtpframe

import "fmt"

// SBCPayloadHeaderLen is the one-byte media payload header A2DP prepends
// to the SBC frames inside an RTP packet (§3, §4.4).
const SBCPayloadHeaderLen = 1

// EncodeSBCHeader packs frameCount (0..15) into the low nibble of the
// SBC media payload header byte; the remaining bits are zero.
func EncodeSBCHeader(frameCount int) (byte, error) {
	if frameCount < 0 || frameCount > 15 {
		return 0, fmt.Errorf("rtpframe: sbc frame count %d out of range 0..15", frameCount)
	}
	return byte(frameCount) & 0x0F, nil
}

// DecodeSBCHeader extracts the frame count from an SBC media payload
// header byte.
func DecodeSBCHeader(b byte) int {
	return int(b & 0x0F)
}
