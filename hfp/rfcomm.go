package hfp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mvaldez/btaudio/internal/logging"
	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/worker"
)

// AG/HF feature bitmasks (§4.9). hfFeatureCodecNegotiation follows the
// value implied by the worked example in §8 scenario 1 (AT+BRSF=768
// yields a reply with the AG's own codec-negotiation bit set), not the
// bit position named in the prose table; see DESIGN.md.
const (
	agFeatureEnhancedCallStatus = 1 << 6
	agFeatureCodecNegotiation   = 1 << 9

	hfFeatureCodecNegotiation = 1 << 9
)

// readBufSize bounds one RFCOMM read per §4.9 ("read up to 64 bytes").
const readBufSize = 64

// cindSnapshot is the fixed indicator tuple §4.9 specifies: call,
// callsetup, service, signal, roam, battchg, callheld. Call state is
// stubbed per §1's Non-goals.
const cindSnapshot = "0,0,1,4,0,4,0"

const cindSchema = `("call",(0,1)),("callsetup",(0,3)),("service",(0,1)),("signal",(0,5)),("roam",(0,1)),("battchg",(0,5)),("callheld",(0,2))`

// ackOnly is the set of commands acknowledged unconditionally with OK
// and no state change, regardless of AT type (§4.9's any-type row).
// +CKPD is deliberately not here: only +CKPD=200 is acked, handled in
// handleCommand.
var ackOnly = map[string]bool{
	"RING": true, "+BTRH": true,
	"+NREC": true, "+CCWA": true, "+BIA": true,
}

// Worker drives one HFP AG RFCOMM transport: AT command dispatch plus
// unsolicited +VGM/+VGS reports when the paired SCO transport's gains
// change underneath it.
type Worker struct {
	T *transport.Transport

	lastMicGain     uint8
	lastSpeakerGain uint8
	gainInitialized bool
}

func NewWorker(t *transport.Transport) *Worker {
	return &Worker{T: t}
}

func (w *Worker) Run() error {
	rb := w.T.Rfcomm
	if rb == nil {
		return fmt.Errorf("hfp: transport has no Rfcomm branch: %w", transport.ErrInvalidState)
	}
	if w.T.ReadBTFd() < 0 {
		return fmt.Errorf("hfp: rfcomm fd not set at startup: %w", transport.ErrInvalidState)
	}

	ps := worker.NewPollset(
		&worker.Slot{Name: "event", Fd: w.T.EventFD.Fd(), Armed: true},
		&worker.Slot{Name: "rfcomm", Fd: w.T.ReadBTFd(), Armed: true},
	)
	buf := make([]byte, readBufSize)

	for {
		ready, err := ps.Wait(-1)
		if err != nil {
			return err
		}
		for _, name := range ready {
			switch name {
			case "event":
				w.T.EventFD.Drain()
				w.reportGainChanges()
			case "rfcomm":
				n, err := unix.Read(w.T.ReadBTFd(), buf)
				if err != nil {
					if errors.Is(err, unix.EINTR) {
						continue
					}
					return fmt.Errorf("hfp: rfcomm read: %w", err)
				}
				if n == 0 {
					return nil
				}
				w.handleLine(string(buf[:n]))
			}
		}
	}
}

// reportGainChanges compares the paired SCO transport's mic/speaker
// gain against the last-reported values and emits unsolicited +VGM/
// +VGS reports on change (§4.9's per-event gain check).
func (w *Worker) reportGainChanges() {
	rb := w.T.Rfcomm
	if rb.PairedSCO == nil || rb.PairedSCO.Sco == nil {
		return
	}
	sco := rb.PairedSCO.Sco

	if !w.gainInitialized {
		w.lastMicGain = sco.MicGain
		w.lastSpeakerGain = sco.SpeakerGain
		w.gainInitialized = true
		return
	}
	if sco.MicGain != w.lastMicGain {
		w.lastMicGain = sco.MicGain
		w.writeUnsolicited(fmt.Sprintf("+VGM=%d", sco.MicGain))
	}
	if sco.SpeakerGain != w.lastSpeakerGain {
		w.lastSpeakerGain = sco.SpeakerGain
		w.writeUnsolicited(fmt.Sprintf("+VGS=%d", sco.SpeakerGain))
	}
}

func (w *Worker) handleLine(raw string) {
	for _, line := range strings.Split(raw, "\r") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		w.handleCommand(line)
	}
}

func (w *Worker) handleCommand(line string) {
	cmd, err := Parse(line)
	if err != nil {
		logging.Warn("hfp: dropping malformed at command", "error", err)
		return
	}
	name := strings.ToUpper(cmd.Name)

	if ackOnly[name] {
		w.writeResponse("OK")
		return
	}

	switch name {
	case "+CKPD":
		if cmd.Value == "200" {
			w.writeResponse("OK")
		} else {
			w.writeResponse("ERROR")
		}
	case "+BRSF":
		w.handleBRSF(cmd)
	case "+BAC":
		w.handleBAC(cmd)
	case "+CIND":
		w.handleCIND(cmd)
	case "+CMER":
		w.handleCMER(cmd)
	case "+BCS":
		w.handleBCS(cmd)
	case "+CHLD":
		w.handleCHLD(cmd)
	case "+VGM":
		w.handleGain(cmd, true)
	case "+VGS":
		w.handleGain(cmd, false)
	case "+IPHONEACCEV":
		w.handleIPhoneAccEv(cmd)
	case "+XAPL":
		w.handleXAPL(cmd)
	default:
		w.writeResponse("ERROR")
	}
}

func (w *Worker) handleBRSF(cmd Command) {
	rb := w.T.Rfcomm
	hfFeatures, err := strconv.ParseUint(cmd.Value, 10, 32)
	if err != nil {
		w.writeResponse("ERROR")
		return
	}
	rb.HFFeatures = uint32(hfFeatures)

	negotiable := rb.MSBCEnabled && rb.HFFeatures&hfFeatureCodecNegotiation != 0
	if negotiable {
		rb.CodecPending = true
	} else {
		rb.CodecPending = false
		if rb.PairedSCO != nil && rb.PairedSCO.Sco != nil {
			rb.PairedSCO.Sco.SCOCodec = transport.CodecCVSD
		}
	}

	w.writeResponse(fmt.Sprintf("+BRSF: %d", w.agFeatures()))
	w.writeResponse("OK")
}

func (w *Worker) agFeatures() uint32 {
	rb := w.T.Rfcomm
	f := uint32(agFeatureEnhancedCallStatus)
	if rb.MSBCEnabled && rb.HFFeatures&hfFeatureCodecNegotiation != 0 {
		f |= agFeatureCodecNegotiation
	}
	return f
}

func (w *Worker) handleBAC(cmd Command) {
	rb := w.T.Rfcomm
	if rb.MSBCEnabled && rb.CodecPending {
		for _, id := range strings.Split(cmd.Value, ",") {
			if strings.TrimSpace(id) == "2" {
				if rb.PairedSCO != nil && rb.PairedSCO.Sco != nil {
					rb.PairedSCO.Sco.SCOCodec = transport.CodecMSBC
				}
				break
			}
		}
	}
	w.writeResponse("OK")
}

func (w *Worker) handleCIND(cmd Command) {
	switch cmd.Type {
	case TypeGET:
		w.writeResponse(fmt.Sprintf("+CIND: %s", cindSnapshot))
		w.writeResponse("OK")
	case TypeTEST:
		w.writeResponse(fmt.Sprintf("+CIND: %s", cindSchema))
		w.writeResponse("OK")
	default:
		w.writeResponse("ERROR")
	}
}

// handleCMER is the terminal step of service-level-connection setup
// (§4.9): OK is always sent, and if a non-CVSD codec was negotiated an
// additional +BCS codec announcement follows it, matching io.c's
// AT+CMER branch (write OK, then conditionally write +BCS, then
// continue — the "continue" skips that command's generic default-
// response echo at the bottom of the dispatch loop, not this OK).
func (w *Worker) handleCMER(cmd Command) {
	rb := w.T.Rfcomm
	w.writeResponse("OK")
	if rb.PairedSCO != nil && rb.PairedSCO.Sco != nil && rb.PairedSCO.Sco.SCOCodec != transport.CodecCVSD {
		codecID := 1
		if rb.PairedSCO.Sco.SCOCodec == transport.CodecMSBC {
			codecID = 2
		}
		w.writeResponse(fmt.Sprintf("+BCS: %d", codecID))
	}
}

func (w *Worker) handleBCS(cmd Command) {
	logging.Debug("hfp: hf confirmed codec", "value", cmd.Value)
	w.writeResponse("OK")
}

func (w *Worker) handleCHLD(cmd Command) {
	if cmd.Type != TypeTEST {
		w.writeResponse("ERROR")
		return
	}
	w.writeResponse("+CHLD: (0,1,2,3)")
	w.writeResponse("OK")
}

func (w *Worker) handleGain(cmd Command, mic bool) {
	rb := w.T.Rfcomm
	v, err := strconv.ParseUint(cmd.Value, 10, 8)
	if err != nil {
		w.writeResponse("ERROR")
		return
	}
	if rb.PairedSCO != nil && rb.PairedSCO.Sco != nil {
		if mic {
			rb.PairedSCO.Sco.MicGain = uint8(v)
			w.lastMicGain = uint8(v)
		} else {
			rb.PairedSCO.Sco.SpeakerGain = uint8(v)
			w.lastSpeakerGain = uint8(v)
		}
	}
	w.writeResponse("OK")
}

// iphoneAccEvent is the parsed form of a +IPHONEACCEV value: a count
// followed by key,value pairs (§4.9, Apple accessory extension).
type iphoneAccEvent struct {
	batteryLevel int
	docked       bool
}

func parseIPhoneAccEv(value string) (iphoneAccEvent, error) {
	fields := strings.Split(value, ",")
	if len(fields) < 1 {
		return iphoneAccEvent{}, fmt.Errorf("hfp: empty +IPHONEACCEV value")
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || len(fields) != 1+2*count {
		return iphoneAccEvent{}, fmt.Errorf("hfp: malformed +IPHONEACCEV %q", value)
	}
	var ev iphoneAccEvent
	for i := 0; i < count; i++ {
		key := fields[1+2*i]
		val := fields[2+2*i]
		switch key {
		case "1":
			if n, err := strconv.Atoi(val); err == nil {
				ev.batteryLevel = n
			}
		case "2":
			ev.docked = val == "1"
		}
	}
	return ev, nil
}

func (w *Worker) handleIPhoneAccEv(cmd Command) {
	ev, err := parseIPhoneAccEv(cmd.Value)
	if err != nil {
		logging.Warn("hfp: +IPHONEACCEV parse failed", "error", err)
		w.writeResponse("ERROR")
		return
	}
	logging.Debug("hfp: iphone accessory event", "battery", ev.batteryLevel, "docked", ev.docked)
	w.writeResponse("OK")
}

// xaplParams is the parsed form of a +XAPL value:
// "<vendor>-<product>-<version>,<features>".
type xaplParams struct {
	vendorID  uint32
	productID uint32
	version   string
	features  uint32
}

func parseXAPL(value string) (xaplParams, error) {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return xaplParams{}, fmt.Errorf("hfp: malformed +XAPL value %q", value)
	}
	ids := strings.SplitN(parts[0], "-", 3)
	if len(ids) != 3 {
		return xaplParams{}, fmt.Errorf("hfp: malformed +XAPL vendor/product/version %q", parts[0])
	}
	vendor, err := strconv.ParseUint(ids[0], 16, 32)
	if err != nil {
		return xaplParams{}, fmt.Errorf("hfp: bad +XAPL vendor id: %w", err)
	}
	product, err := strconv.ParseUint(ids[1], 16, 32)
	if err != nil {
		return xaplParams{}, fmt.Errorf("hfp: bad +XAPL product id: %w", err)
	}
	features, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return xaplParams{}, fmt.Errorf("hfp: bad +XAPL features: %w", err)
	}
	return xaplParams{vendorID: uint32(vendor), productID: uint32(product), version: ids[2], features: uint32(features)}, nil
}

func (w *Worker) handleXAPL(cmd Command) {
	p, err := parseXAPL(cmd.Value)
	if err != nil {
		logging.Warn("hfp: +XAPL parse failed", "error", err)
		w.writeResponse("ERROR")
		return
	}
	logging.Debug("hfp: xapl params", "vendor", p.vendorID, "product", p.productID, "version", p.version, "features", p.features)
	w.writeResponse("+XAPL=BlueALSA,0")
	w.writeResponse("OK")
}

func (w *Worker) writeResponse(text string) {
	w.write("\r\n" + text + "\r\n")
}

func (w *Worker) writeUnsolicited(text string) {
	w.write(text + "\r")
}

func (w *Worker) write(framed string) {
	fd := w.T.ReadBTFd()
	buf := []byte(framed)
	total := 0
	for total < len(buf) {
		n, err := unix.Write(fd, buf[total:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logging.Warn("hfp: rfcomm write failed", "error", err)
			return
		}
		total += n
	}
}
