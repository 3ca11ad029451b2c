// Command btaudiod is a thin harness around the worker packages: it
// loads configuration, sets up logging, ignores SIGPIPE process-wide
// (§9's host-environment contract for broken-pipe PCM writes), and
// demonstrates wiring one SBC A2DP source transport end to end. Real
// deployments drive this core from a D-Bus/BlueZ front end, out of
// scope here (§1).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mvaldez/btaudio/a2dp"
	"github.com/mvaldez/btaudio/codec/sbc"
	"github.com/mvaldez/btaudio/internal/config"
	"github.com/mvaldez/btaudio/internal/logging"
	"github.com/mvaldez/btaudio/transport"
	"github.com/mvaldez/btaudio/worker"
)

func main() {
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/btaudio/config.yaml)")
	btFd := flag.Int("bt-fd", -1, "connected L2CAP socket fd for the demo A2DP source transport")
	pcmPath := flag.String("pcm", "", "PCM FIFO path to read source audio from")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if err := logging.Init(cfg.Logging); err != nil {
		fmt.Fprintln(os.Stderr, "init logging:", err)
		os.Exit(1)
	}

	signal.Ignore(syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logging.Info("btaudiod starting")

	if *btFd < 0 || *pcmPath == "" {
		logging.Info("no --bt-fd/--pcm given, idling until a signal arrives")
		<-sigChan
		logging.Info("shutting down")
		return
	}

	if err := runDemoSource(cfg, *btFd, *pcmPath); err != nil {
		logging.Error("demo source worker exited", "error", err)
		os.Exit(1)
	}
}

func runDemoSource(cfg config.Config, btFd int, pcmPath string) error {
	h := sbc.Header{
		SamplingHz: 44100,
		Blocks:     16,
		Channels:   sbc.ModeStereo,
		Alloc:      sbc.AllocSNR,
		Subbands:   8,
		Bitpool:    cfg.SBC.MaxBitpool,
	}
	enc, err := sbc.NewEncoder(h)
	if err != nil {
		return fmt.Errorf("btaudiod: sbc encoder: %w", err)
	}

	ev, err := worker.NewEventSignal()
	if err != nil {
		return fmt.Errorf("btaudiod: event signal: %w", err)
	}
	defer ev.Close()

	pcm := transport.NewPcm(pcmPath, func() {})
	tr := &transport.Transport{
		Profile:  transport.ProfileA2DPSource,
		Codec:    transport.CodecSBC,
		BTFd:     btFd,
		EventFD:  ev,
		WriteMTU: 672,
		State:    transport.StateActive,
		A2DP:     &transport.A2DPEndpoint{VolumeLeft: 127, VolumeRight: 127},
	}

	w := a2dp.NewSBCSourceWorker(tr, pcm, enc, 0, 0, cfg.A2DP.VolumePassthrough)
	return w.Run()
}
