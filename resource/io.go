package resource

import (
	"context"
	"io"
)

// ThrottledWriter wraps an io.Writer with the controller's copy-out rate
// limit. Used by snapshot writes and background cache flushes so they do
// not starve foreground traffic.
type ThrottledWriter struct {
	w   io.Writer
	rc  *Controller
	ctx context.Context
}

// NewThrottledWriter creates a ThrottledWriter.
func NewThrottledWriter(ctx context.Context, w io.Writer, rc *Controller) *ThrottledWriter {
	return &ThrottledWriter{w: w, rc: rc, ctx: ctx}
}

func (w *ThrottledWriter) Write(p []byte) (int, error) {
	if err := w.rc.AcquireCopy(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// ThrottledReader wraps an io.Reader with the controller's copy-out rate
// limit.
type ThrottledReader struct {
	r   io.Reader
	rc  *Controller
	ctx context.Context
}

// NewThrottledReader creates a ThrottledReader.
func NewThrottledReader(ctx context.Context, r io.Reader, rc *Controller) *ThrottledReader {
	return &ThrottledReader{r: r, rc: rc, ctx: ctx}
}

func (r *ThrottledReader) Read(p []byte) (int, error) {
	// Waits for the full buffer size; reads may return fewer bytes, which
	// slightly over-throttles but never under-throttles.
	if err := r.rc.AcquireCopy(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
