package process

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
)

// Drainer continuously reads one process output stream into memory on its
// own goroutine until the stream is closed.
//
// Two drainers, one per stream, must run at the same time for every process:
// a child that fills the pipe buffer of an undrained stream blocks forever.
type Drainer struct {
	r    io.Reader
	buf  *tailBuffer
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

// NewDrainer creates a drainer for r. maxBytes bounds the retained content;
// zero selects the default.
func NewDrainer(r io.Reader, maxBytes int) *Drainer {
	return &Drainer{
		r:    r,
		buf:  newTailBuffer(maxBytes),
		done: make(chan struct{}),
	}
}

// Start launches the reading goroutine. Calling Start more than once is a no-op.
func (d *Drainer) Start() {
	d.once.Do(func() {
		go d.drain()
	})
}

// Run drains the stream on the calling goroutine and returns the read
// error, if any. A read error ends draining; whatever was captured so far is
// kept. If the drainer was already started, Run waits for it to finish.
func (d *Drainer) Run() error {
	ran := false
	d.once.Do(func() {
		ran = true
		d.drain()
	})
	if !ran {
		<-d.done
	}
	return d.Err()
}

func (d *Drainer) drain() {
	defer close(d.done)
	_, err := io.Copy(d.buf, d.r)
	if err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
	}
}

// Done is closed once the stream has been fully read.
func (d *Drainer) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the stream has been fully read or ctx is done.
func (d *Drainer) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// String returns everything captured so far.
func (d *Drainer) String() string {
	return d.buf.String()
}

// Len returns the number of bytes currently retained.
func (d *Drainer) Len() int {
	return d.buf.Len()
}

// TotalBytes returns the number of bytes read from the stream, including
// any that were dropped because of the size bound.
func (d *Drainer) TotalBytes() int64 {
	return d.buf.TotalBytes()
}

// Truncated reports whether older content was dropped.
func (d *Drainer) Truncated() bool {
	return d.buf.Truncated()
}

// Err returns the read error that terminated draining, if any.
func (d *Drainer) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}
