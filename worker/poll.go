package worker

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Slot names a fd waited on in a Pollset, so callers can identify which
// one became ready without guessing array indices.
type Slot struct {
	Name string
	Fd   int
	// Armed controls whether this slot is included in the next Wait
	// call. The SCO worker disarms its speaker-PCM slot while a
	// previous encoded write still has unflushed chunks queued for the
	// BT socket (§4.8).
	Armed bool
}

// Pollset multiplexes a small, fixed set of fds (event, BT socket, one or
// two PCM pipes) the way io_thread_sco and the A2DP worker loops use
// poll(2) in the original implementation.
type Pollset struct {
	slots []*Slot
	pfds  []unix.PollFd
}

func NewPollset(slots ...*Slot) *Pollset {
	return &Pollset{slots: slots, pfds: make([]unix.PollFd, len(slots))}
}

// Wait blocks (timeoutMS < 0 means forever) until one or more armed slots
// are readable, returning the names of the ready slots.
func (ps *Pollset) Wait(timeoutMS int) ([]string, error) {
	ps.pfds = ps.pfds[:0]
	active := ps.slots[:0:0]
	for _, s := range ps.slots {
		if !s.Armed {
			continue
		}
		ps.pfds = append(ps.pfds, unix.PollFd{Fd: int32(s.Fd), Events: unix.POLLIN})
		active = append(active, s)
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("worker: pollset has no armed slots")
	}

	n, err := unix.Poll(ps.pfds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("worker: poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	var ready []string
	for i, pfd := range ps.pfds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ready = append(ready, active[i].Name)
		}
	}
	return ready, nil
}
