package rules

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/response"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`)

// Expand replaces {name} with the binding of the same name. Unbound
// placeholders are kept as written.
func Expand(tmpl string, b *domain.Bindings) string {
	if b == nil || b.Len() == 0 {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := b.Lookup(name)
		if !ok {
			return m
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	})
}

func inbound(rw ports.Rewrite, op string) (ports.InboundRewrite, error) {
	in, ok := rw.(ports.InboundRewrite)
	if !ok {
		return nil, domain.NewIllegalState(op, "requires an inbound rewrite")
	}
	return in, nil
}

func op(f func(ctx context.Context, rw ports.Rewrite) error) ports.Operation {
	return ports.OperationFunc(f)
}

// Handled marks the flow HANDLED: no more rules, no application dispatch.
func Handled() ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		return rw.SetFlow(domain.FlowHandled)
	})
}

// Abort marks the flow ABORT_REQUEST: no more rules, no dispatch, and held
// output is dropped.
func Abort() ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		return rw.SetFlow(domain.FlowAbortRequest)
	})
}

// SetStatus sets the response status code.
func SetStatus(code int) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "set status")
		if err != nil {
			return err
		}
		in.Response().WriteHeader(code)
		return nil
	})
}

// AddHeader adds a response header value. The value is expanded.
func AddHeader(name, value string) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "add header")
		if err != nil {
			return err
		}
		in.Response().Header().Add(name, Expand(value, rw.Bindings()))
		return nil
	})
}

// SetHeader replaces a response header. The value is expanded.
func SetHeader(name, value string) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "set header")
		if err != nil {
			return err
		}
		in.Response().Header().Set(name, Expand(value, rw.Bindings()))
		return nil
	})
}

// AddDateHeader adds a header holding t in HTTP date format.
func AddDateHeader(name string, t time.Time) ports.Operation {
	return AddHeader(name, t.UTC().Format(http.TimeFormat))
}

// AddIntHeader adds an integer header.
func AddIntHeader(name string, v int) ports.Operation {
	return AddHeader(name, strconv.Itoa(v))
}

// AddCookie sets a cookie on the response. Name and value are expanded.
func AddCookie(c *http.Cookie) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "add cookie")
		if err != nil {
			return err
		}
		cookie := *c
		cookie.Value = Expand(c.Value, rw.Bindings())
		http.SetCookie(in.Response(), &cookie)
		return nil
	})
}

// Write writes value, expanded, to the response.
func Write(value string) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "write")
		if err != nil {
			return err
		}
		_, err = io.WriteString(in.Response(), Expand(value, rw.Bindings()))
		return err
	})
}

// WriteBytes writes b to the response as is.
func WriteBytes(b []byte) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "write")
		if err != nil {
			return err
		}
		_, err = in.Response().Write(b)
		return err
	})
}

// WriteFrom writes the content of r to the response. r is read once, on
// first use, and the content is reused by later transactions.
func WriteFrom(r io.Reader) ports.Operation {
	var (
		once    sync.Once
		content []byte
		readErr error
	)
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "write")
		if err != nil {
			return err
		}
		once.Do(func() {
			content, readErr = io.ReadAll(r)
		})
		if readErr != nil {
			return fmt.Errorf("read content: %w", readErr)
		}
		_, err = in.Response().Write(content)
		return err
	})
}

// Redirect sends a redirect to target, expanded, and marks the flow
// HANDLED. code must be a 3xx redirect status.
func Redirect(target string, code int) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "redirect")
		if err != nil {
			return err
		}
		switch code {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		default:
			return fmt.Errorf("redirect status must be 301, 302, 303, 307 or 308, got %d", code)
		}
		http.Redirect(in.Response(), in.Request(), Expand(target, rw.Bindings()), code)
		return rw.SetFlow(domain.FlowHandled)
	})
}

// TemporaryRedirect redirects with 302 Found.
func TemporaryRedirect(target string) ports.Operation {
	return Redirect(target, http.StatusFound)
}

// PermanentRedirect redirects with 301 Moved Permanently.
func PermanentRedirect(target string) ports.Operation {
	return Redirect(target, http.StatusMovedPermanently)
}

// Forward serves target, expanded, through the engine instead of the
// original path. The application sees the forwarded request.
func Forward(target string) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "forward")
		if err != nil {
			return err
		}
		return in.ForwardTo(Expand(target, rw.Bindings()))
	})
}

// Include serves target, expanded, into the current response and lets the
// transaction continue.
func Include(target string) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "include")
		if err != nil {
			return err
		}
		return in.Include(Expand(target, rw.Bindings()))
	})
}

// RewriteURL replaces the address of an outbound rewrite.
func RewriteURL(target string) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		out, ok := rw.(ports.OutboundRewrite)
		if !ok {
			return domain.NewIllegalState("rewrite url", "requires an outbound rewrite")
		}
		out.SetURL(Expand(target, rw.Bindings()))
		return nil
	})
}

// Bind stores value, expanded, under key.
func Bind(key, value string) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		rw.Bindings().Put(key, Expand(value, rw.Bindings()))
		return nil
	})
}

// Log logs msg, expanded, with the transaction identity. A nil logger
// uses slog.Default.
func Log(logger *slog.Logger, level slog.Level, msg string) ports.Operation {
	return op(func(ctx context.Context, rw ports.Rewrite) error {
		l := logger
		if l == nil {
			l = slog.Default()
		}
		attrs := []slog.Attr{
			slog.String("transaction_id", rw.ID()),
			slog.String("direction", string(rw.Direction())),
			slog.String("flow", rw.Flow().String()),
		}
		if path, ok := targetPath(rw); ok {
			attrs = append(attrs, slog.String("path", path))
		}
		l.LogAttrs(ctx, level, Expand(msg, rw.Bindings()), attrs...)
		return nil
	})
}

// Chain performs ops in order and stops at the first error.
func Chain(ops ...ports.Operation) ports.Operation {
	return op(func(ctx context.Context, rw ports.Rewrite) error {
		for _, o := range ops {
			if err := o.Perform(ctx, rw); err != nil {
				return err
			}
		}
		return nil
	})
}

// InterceptOutput registers content interceptors on the buffered response.
// It fails when the response is not buffered or already committed.
func InterceptOutput(interceptors ...response.Interceptor) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "intercept output")
		if err != nil {
			return err
		}
		w, err := response.Current(in)
		if err != nil {
			return err
		}
		for _, i := range interceptors {
			if err := w.AddInterceptor(i); err != nil {
				return err
			}
		}
		return nil
	})
}

// WrapOutputStream registers stream wrappers on the buffered response.
func WrapOutputStream(wrappers ...response.StreamWrapper) ports.Operation {
	return op(func(_ context.Context, rw ports.Rewrite) error {
		in, err := inbound(rw, "wrap output stream")
		if err != nil {
			return err
		}
		w, err := response.Current(in)
		if err != nil {
			return err
		}
		for _, s := range wrappers {
			if err := w.AddStream(s); err != nil {
				return err
			}
		}
		return nil
	})
}
