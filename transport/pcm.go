package transport

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mvaldez/btaudio/internal/backoff"
	"github.com/mvaldez/btaudio/internal/logging"
)

// Pcm is a unidirectional named-pipe endpoint. The control plane sets
// Path and calls Release on disconnect; the worker opens/closes fd and
// performs reads or writes, never both.
type Pcm struct {
	Path    string
	fd      int // -1 when closed
	Release func()
}

// NewPcm returns a Pcm with no fd open.
func NewPcm(path string, release func()) *Pcm {
	return &Pcm{Path: path, fd: -1, Release: release}
}

// Fd reports the current open file descriptor, or -1.
func (p *Pcm) Fd() int { return p.fd }

// OpenForRead blocks until a writer opens the pipe, per §4.1.
func (p *Pcm) OpenForRead() error {
	if p.fd != -1 {
		return nil
	}
	if p.Path == "" {
		return ErrNotRequested
	}
	fd, err := unix.Open(p.Path, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("pcm: open %q for read: %w", p.Path, err)
	}
	p.fd = fd
	return nil
}

// OpenForWrite attempts a non-blocking open, retrying per cfg on ENXIO
// (no reader attached yet), then clears O_NONBLOCK on success.
func (p *Pcm) OpenForWrite(cfg *backoff.FixedInterval) error {
	if p.fd != -1 {
		return nil
	}
	if p.Path == "" {
		return ErrNotRequested
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts(); attempt++ {
		fd, err := unix.Open(p.Path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			if err := unix.SetNonblock(fd, false); err != nil {
				unix.Close(fd)
				return fmt.Errorf("pcm: clear nonblock on %q: %w", p.Path, err)
			}
			p.fd = fd
			return nil
		}
		lastErr = err
		if !errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("pcm: open %q for write: %w", p.Path, err)
		}
		time.Sleep(cfg.NextDelay())
	}
	return fmt.Errorf("pcm: open %q for write: retries exhausted: %w", p.Path, lastErr)
}

// TryOpenForRead is OpenForRead's non-blocking, best-effort counterpart
// used by the SCO worker (§4.8: "attempt to open speaker-PCM for read
// ... best-effort"): it never blocks waiting for a writer and reports
// whether the endpoint ended up open.
func (p *Pcm) TryOpenForRead() (bool, error) {
	if p.fd != -1 {
		return true, nil
	}
	if p.Path == "" {
		return false, nil
	}
	fd, err := unix.Open(p.Path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false, fmt.Errorf("pcm: open %q for read: %w", p.Path, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return false, fmt.Errorf("pcm: clear nonblock on %q: %w", p.Path, err)
	}
	p.fd = fd
	return true, nil
}

// TryOpenForWrite is OpenForWrite's best-effort counterpart: exactly one
// non-blocking attempt, treating ENXIO (no reader attached yet) as "not
// open yet" rather than retrying in a loop, since the SCO worker revisits
// this on every control-plane event signal anyway.
func (p *Pcm) TryOpenForWrite() (bool, error) {
	if p.fd != -1 {
		return true, nil
	}
	if p.Path == "" {
		return false, nil
	}
	fd, err := unix.Open(p.Path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return false, nil
		}
		return false, fmt.Errorf("pcm: open %q for write: %w", p.Path, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return false, fmt.Errorf("pcm: clear nonblock on %q: %w", p.Path, err)
	}
	p.fd = fd
	return true, nil
}

// ReadFrames blocks reading exactly n*2 bytes (16-bit samples) into buf,
// retrying on EINTR. Returns n on a full read, 0 on EOF (Release fires
// and ErrPeerClosed is returned), error on any other failure.
func (p *Pcm) ReadFrames(buf []byte, nSamples int) (int, error) {
	if p.fd == -1 {
		return -1, fmt.Errorf("pcm: read on closed endpoint")
	}
	want := nSamples * 2
	if len(buf) < want {
		return -1, fmt.Errorf("pcm: buffer too small for %d samples", nSamples)
	}
	total := 0
	for total < want {
		n, err := unix.Read(p.fd, buf[total:want])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return -1, fmt.Errorf("pcm: read: %w", err)
		}
		if n == 0 {
			p.closeAndRelease()
			return 0, ErrPeerClosed
		}
		total += n
	}
	return nSamples, nil
}

// WriteFrames blocks writing exactly n*2 bytes, retrying on EINTR. On
// EPIPE it closes the endpoint, fires Release, and returns (0, nil) per
// §4.1 ("on broken-pipe, invoke release and return 0").
func (p *Pcm) WriteFrames(buf []byte, nSamples int) (int, error) {
	if p.fd == -1 {
		return -1, fmt.Errorf("pcm: write on closed endpoint")
	}
	want := nSamples * 2
	if len(buf) < want {
		return -1, fmt.Errorf("pcm: buffer too small for %d samples", nSamples)
	}
	total := 0
	for total < want {
		n, err := unix.Write(p.fd, buf[total:want])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EPIPE) {
				logging.Debug("pcm write: peer closed", "path", p.Path)
				p.closeAndRelease()
				return 0, nil
			}
			return -1, fmt.Errorf("pcm: write: %w", err)
		}
		total += n
	}
	return nSamples, nil
}

func (p *Pcm) closeAndRelease() {
	p.close()
	if p.Release != nil {
		p.Release()
	}
}

// Close closes the fd if open and resets it to -1. Safe to call more
// than once.
func (p *Pcm) Close() error {
	return p.close()
}

func (p *Pcm) close() error {
	if p.fd == -1 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
