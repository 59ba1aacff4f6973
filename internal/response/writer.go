// Package response provides the buffering response wrapper used by rules
// that inspect or transform application output.
//
// A Writer holds everything written to it until the transaction ends. At
// Finish the held body goes through the content interceptors in order, then
// through the stream wrappers, and finally reaches the client. Flush commits
// the held output early when no interceptor needs the whole body.
package response

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// Interceptor transforms the complete response body.
type Interceptor func(body []byte) ([]byte, error)

// StreamWrapper wraps the client stream. Closing the returned writer must
// flush anything it holds into w.
type StreamWrapper func(w io.Writer) io.WriteCloser

// Writer is the buffering http.ResponseWriter installed by Wrapper.
type Writer struct {
	http.ResponseWriter

	status       int
	committed    bool
	finished     bool
	aborted      bool
	buf          bytes.Buffer
	interceptors []Interceptor
	streams      []StreamWrapper

	out     io.Writer
	closers []io.Closer
}

var (
	_ http.ResponseWriter = (*Writer)(nil)
	_ http.Flusher        = (*Writer)(nil)
	_ ports.Finisher      = (*Writer)(nil)
	_ ports.Discarder     = (*Writer)(nil)
	_ ports.AbortFinisher = (*Writer)(nil)
)

// NewWriter wraps w.
func NewWriter(w http.ResponseWriter) *Writer {
	return &Writer{ResponseWriter: w}
}

// Unwrap returns the wrapped writer, for http.ResponseController.
func (w *Writer) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Status returns the status set by the application, or 200.
func (w *Writer) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Committed reports whether output already reached the client.
func (w *Writer) Committed() bool {
	return w.committed
}

// Body returns a copy of the output held so far.
func (w *Writer) Body() []byte {
	return bytes.Clone(w.buf.Bytes())
}

func (w *Writer) WriteHeader(code int) {
	if w.committed || w.status != 0 {
		return
	}
	w.status = code
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.aborted {
		return 0, domain.NewIllegalState("write", "request aborted")
	}
	if w.finished {
		return w.ResponseWriter.Write(p)
	}
	if w.committed {
		return w.out.Write(p)
	}
	return w.buf.Write(p)
}

// AddInterceptor registers a content interceptor. Interceptors run in
// registration order and need the whole body, so they cannot be added once
// output was committed.
func (w *Writer) AddInterceptor(i Interceptor) error {
	if w.committed || w.finished {
		return domain.NewIllegalState("intercept output", "response already committed")
	}
	w.interceptors = append(w.interceptors, i)
	return nil
}

// AddStream registers a stream wrapper. The first registered wrapper sees
// the data first.
func (w *Writer) AddStream(s StreamWrapper) error {
	if w.committed || w.finished {
		return domain.NewIllegalState("wrap output stream", "response already committed")
	}
	w.streams = append(w.streams, s)
	return nil
}

// Flush commits the held output. While interceptors are registered the
// output stays held.
func (w *Writer) Flush() {
	if w.finished || len(w.interceptors) > 0 {
		return
	}
	if !w.committed {
		w.commit()
	}
	if _, err := w.out.Write(w.buf.Bytes()); err == nil {
		w.buf.Reset()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Finish sends the held output to the client. It is called once, when the
// transaction ends.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}

	body := w.buf.Bytes()
	if len(w.interceptors) > 0 {
		var err error
		for _, intercept := range w.interceptors {
			if body, err = intercept(body); err != nil {
				w.finished = true
				return err
			}
		}
		if w.Header().Get("Content-Length") != "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
	}

	if !w.committed {
		w.commit()
	}
	w.finished = true

	var firstErr error
	if len(body) > 0 {
		if _, err := w.out.Write(body); err != nil {
			firstErr = err
		}
	}
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.buf.Reset()
	return firstErr
}

// FinishAborted sends the status, headers and body written so far. Content
// interceptors are dropped, as are stream wrappers unless output was already
// committed through them. Later writes fail.
func (w *Writer) FinishAborted() error {
	if w.finished {
		w.aborted = true
		return nil
	}
	w.interceptors = nil
	if !w.committed {
		w.streams = nil
	}
	err := w.Finish()
	w.aborted = true
	return err
}

// Discard drops the held output. Nothing more is sent by Finish.
func (w *Writer) Discard() {
	w.buf.Reset()
	w.interceptors = nil
	w.finished = true
}

// commit writes the status line and builds the stream chain.
func (w *Writer) commit() {
	w.committed = true
	if len(w.streams) > 0 {
		w.Header().Del("Content-Length")
	}
	w.ResponseWriter.WriteHeader(w.Status())

	var out io.Writer = w.ResponseWriter
	for i := len(w.streams) - 1; i >= 0; i-- {
		wc := w.streams[i](out)
		w.closers = append(w.closers, wc)
		out = wc
	}
	w.out = out
}
