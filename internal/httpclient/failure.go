package httpclient

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/unkn0wn-root/restflow/internal/errdef"
)

type FailureKind string

const (
	FailureTimeout FailureKind = "timeout"
	FailureAborted FailureKind = "aborted"
	FailureNetwork FailureKind = "network"
	FailureHTTP    FailureKind = "http"
)

// Failure is a dispatch outcome that produced no usable response, or a non-2xx
// response promoted by CheckStatus.
type Failure struct {
	Kind       FailureKind
	Method     string
	URL        string
	Reason     string
	StatusCode int
	Status     string
	Body       []byte
	Err        error
}

func (f *Failure) Error() string {
	if f == nil {
		return "<nil>"
	}
	msg := f.Reason
	if msg == "" {
		msg = string(f.Kind)
	}
	if f.Kind == FailureHTTP && f.Status != "" {
		msg = "server responded " + f.Status
		if snippet := bodySnippet(f.Body); snippet != "" {
			msg += ": " + snippet
		}
	}
	if f.Err != nil && f.Kind == FailureNetwork && f.Reason != "" && !strings.Contains(f.Reason, f.Err.Error()) {
		msg += " (" + rootCause(f.Err) + ")"
	}
	if f.Method != "" && f.URL != "" {
		return fmt.Sprintf("%s %s: %s", f.Method, f.URL, msg)
	}
	return msg
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// AsFailure extracts the dispatch failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// CheckStatus promotes a non-2xx response to an http failure.
func CheckStatus(resp *Response) error {
	if resp == nil || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return errdef.Wrap(errdef.CodeHTTP, &Failure{
		Kind:       FailureHTTP,
		Method:     resp.Method,
		URL:        resp.EffectiveURL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       resp.Body,
	}, "")
}

// classify maps a transport error onto the failure taxonomy. parent is the
// caller's context; its cancellation means the user aborted.
func classify(parent context.Context, err error, method, rawURL string, timeout time.Duration) *Failure {
	f := &Failure{Method: method, URL: rawURL, Err: err}

	if parentErr := parent.Err(); errors.Is(parentErr, context.Canceled) {
		f.Kind = FailureAborted
		f.Reason = "request was aborted"
		return f
	}

	if isTimeout(err) {
		f.Kind = FailureTimeout
		if timeout > 0 {
			f.Reason = fmt.Sprintf("request timed out after %s", timeout)
		} else {
			f.Reason = "request timed out"
		}
		return f
	}
	if errors.Is(err, context.Canceled) {
		f.Kind = FailureAborted
		f.Reason = "request was aborted"
		return f
	}

	f.Kind = FailureNetwork
	f.Reason = networkReason(err)
	return f
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func networkReason(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		lower := strings.ToLower(uerr.Error())
		if strings.Contains(lower, "unsupported protocol scheme") {
			return "unsupported protocol scheme"
		}
		if strings.Contains(lower, "invalid url") || strings.Contains(lower, "invalid character") ||
			strings.Contains(lower, "no host in request url") {
			return "invalid URL"
		}
	}

	var dnserr *net.DNSError
	if errors.As(err, &dnserr) {
		if dnserr.Name != "" {
			return fmt.Sprintf("DNS lookup failed for %q", dnserr.Name)
		}
		return "DNS lookup failed"
	}

	var operr *net.OpError
	if errors.As(err, &operr) {
		switch {
		case errors.Is(operr.Err, syscall.ECONNREFUSED):
			return "connection refused by remote host"
		case errors.Is(operr.Err, syscall.ECONNRESET):
			return "connection reset by peer"
		case errors.Is(operr.Err, syscall.ENETUNREACH), errors.Is(operr.Err, syscall.EHOSTUNREACH):
			return "network unreachable"
		}
	}

	var ua x509.UnknownAuthorityError
	if errors.As(err, &ua) {
		return "TLS: unknown certificate authority"
	}
	var hn x509.HostnameError
	if errors.As(err, &hn) {
		return "TLS: certificate does not match host"
	}
	if strings.Contains(strings.ToLower(err.Error()), "tls") {
		return "TLS handshake failed"
	}
	return "network error"
}

// rootCause returns the innermost error text, which is usually the useful part
// of a url.Error chain.
func rootCause(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func bodySnippet(body []byte) string {
	const limit = 200
	text := strings.Join(strings.Fields(string(body)), " ")
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
