// Package worker provides the multi-FD wait primitive every per-transport
// worker loop (A2DP source/sink, SCO, RFCOMM) polls on, plus the counting
// event signal the control plane uses to wake a blocked worker.
package worker

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// EventSignal is a Linux eventfd-backed counting signal. It implements
// transport.EventFD.
type EventSignal struct {
	fd int
}

// NewEventSignal creates a non-blocking eventfd in counter mode: reads
// drain and return the accumulated count, writes add to it.
func NewEventSignal() (*EventSignal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("worker: eventfd: %w", err)
	}
	return &EventSignal{fd: fd}, nil
}

func (e *EventSignal) Fd() int { return e.fd }

// Drain reads and clears the current count. Returns (0, nil) if no
// signal was pending (EAGAIN on a non-blocking eventfd).
func (e *EventSignal) Drain() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(e.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("worker: eventfd read: %w", err)
	}
	if n != 8 {
		return 0, fmt.Errorf("worker: eventfd short read: %d bytes", n)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Signal posts one wakeup to the worker blocked on this eventfd.
func (e *EventSignal) Signal() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.fd, buf[:])
	if err != nil {
		return fmt.Errorf("worker: eventfd write: %w", err)
	}
	return nil
}

func (e *EventSignal) Close() error {
	return unix.Close(e.fd)
}
