package proxy

import (
	"context"
	"fmt"
	"io"
	"time"
)

// errIdle is the cancel cause when no byte moved in either direction for the
// configured timeout. It wraps DeadlineExceeded so callers treat it as one.
var errIdle = fmt.Errorf("upstream idle: %w", context.DeadlineExceeded)

// idleWatch cancels a request context after a period without progress. The
// budget covers the wait for response headers too, so a long download or
// upload survives as long as data keeps flowing.
type idleWatch struct {
	timeout time.Duration
	timer   *time.Timer
}

func newIdleWatch(parent context.Context, timeout time.Duration) (context.Context, *idleWatch, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	w := &idleWatch{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() { cancel(errIdle) })
	return ctx, w, func() {
		w.timer.Stop()
		cancel(context.Canceled)
	}
}

func (w *idleWatch) touch() {
	w.timer.Reset(w.timeout)
}

// idleReader marks progress on every successful read.
type idleReader struct {
	rc    io.ReadCloser
	watch *idleWatch
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.watch.touch()
	}
	return n, err
}

func (r *idleReader) Close() error {
	return r.rc.Close()
}

// idleWriter marks progress when the client accepts bytes, so a slow reader
// on the device side does not count as upstream silence.
type idleWriter struct {
	w     io.Writer
	watch *idleWatch
}

func (w *idleWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.watch.touch()
	}
	return n, err
}
