//go:build linux

package notify

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pipeWaker is a self-pipe: signal writes one byte to w, which makes r
// readable and unblocks the poll in the reader goroutine.
type pipeWaker struct {
	r, w int
}

func newWaker() (waker, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	return &pipeWaker{r: fds[0], w: fds[1]}, nil
}

func (p *pipeWaker) fd() int { return p.r }

func (p *pipeWaker) signal() error {
	_, err := unix.Write(p.w, []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *pipeWaker) close() error {
	werr := unix.Close(p.w)
	rerr := unix.Close(p.r)
	if werr != nil {
		return werr
	}
	return rerr
}
