// Package a2dp implements the A2DP source and sink worker loops (§4.5,
// §4.6): SBC and AAC-LATM pipelines around the shared PCM I/O, rate
// pacer, volume scaler, and RTP framer primitives.
package a2dp

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/mvaldez/btaudio/codec/aac"
	"github.com/mvaldez/btaudio/codec/sbc"
)

// rtpHeaderLen is the fixed RTP header size pion/rtp marshals; both
// codec pipelines budget MTU around it.
const rtpHeaderLen = 12

// numChannels maps an sbc.ChannelMode to a sample count, mirroring
// sbc.Header.numChannels without reaching into the package's internals.
func numChannels(mode sbc.ChannelMode) int {
	if mode == sbc.ModeMono {
		return 1
	}
	return 2
}

// aacChannels is numChannels' AAC-side counterpart.
func aacChannels(mode aac.ChannelMode) int {
	if mode == aac.ModeMono {
		return 1
	}
	return 2
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(uint16(s))
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// errPeerGone classifies a BT socket write/read error the way §7
// disposes of "peer closed": the worker should release and exit rather
// than log-and-continue.
func errPeerGone(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.ENOTCONN) || errors.Is(err, unix.EPIPE)
}

// writeSocket writes buf in full to fd, retrying on EINTR. It reports
// whether the failure is peer-gone (fatal to the worker) alongside the
// error.
func writeSocket(fd int, buf []byte) (peerGone bool, err error) {
	total := 0
	for total < len(buf) {
		n, werr := unix.Write(fd, buf[total:])
		if werr != nil {
			if errors.Is(werr, unix.EINTR) {
				continue
			}
			return errPeerGone(werr), werr
		}
		total += n
	}
	return false, nil
}

// readSocket reads up to len(buf) bytes from fd in one call, retrying on
// EINTR. A zero-length, nil-error result means the peer performed an
// orderly shutdown.
func readSocket(fd int, buf []byte) (int, bool, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, errPeerGone(err), err
		}
		return n, n == 0, nil
	}
}
