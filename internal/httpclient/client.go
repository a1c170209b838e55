package httpclient

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
	"github.com/unkn0wn-root/restflow/internal/telemetry"
)

type Options struct {
	Timeout            time.Duration
	FollowRedirects    bool
	InsecureSkipVerify bool
	ProxyURL           string
	DisableHTTP2       bool
	DisableCookies     bool
	// RateLimit is sends per second; zero disables limiting.
	RateLimit float64
	Burst     int
	Trace     bool
}

type Client struct {
	opts      Options
	http      *http.Client
	limiter   *rate.Limiter
	telemetry telemetry.Instrumenter
	logger    *zap.Logger
}

func NewClient(opts Options) (*Client, error) {
	hc, err := buildHTTPClient(opts)
	if err != nil {
		return nil, err
	}
	c := &Client{opts: opts, http: hc, telemetry: telemetry.Noop(), logger: zap.NewNop()}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// SetHTTPClient swaps the underlying client. Passing nil is a no-op.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.http = hc
	}
}

// HTTPClient exposes the configured transport so token fetches share proxy and TLS settings.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// SetTelemetry configures the instrumenter used to emit OpenTelemetry spans. Passing nil restores the no-op implementation.
func (c *Client) SetTelemetry(instr telemetry.Instrumenter) {
	if instr == nil {
		instr = telemetry.Noop()
	}
	c.telemetry = instr
}

func (c *Client) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
}

type Response struct {
	Method       string
	Status       string
	StatusCode   int
	Proto        string
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	EffectiveURL string
	Timeline     *telemetry.Timeline
}

// StatusText is the reason phrase without the numeric code.
func (r *Response) StatusText() string {
	if r == nil {
		return ""
	}
	if _, text, ok := strings.Cut(r.Status, " "); ok {
		return text
	}
	if text := http.StatusText(r.StatusCode); text != "" {
		return text
	}
	return r.Status
}

// SendInfo labels the telemetry span of a send.
type SendInfo struct {
	Name      string
	RequestID string
}

// Send dispatches wire and waits for the full response body. timeout wins over
// the wire's own TimeoutMS, which wins over the client default. Non-2xx
// responses are returned as data; only transport failures are errors, always
// carrying a *Failure.
func (c *Client) Send(ctx context.Context, wire *request.Wire, timeout time.Duration) (*Response, error) {
	return c.SendNamed(ctx, wire, timeout, SendInfo{})
}

func (c *Client) SendNamed(ctx context.Context, wire *request.Wire, timeout time.Duration, info SendInfo) (resp *Response, err error) {
	if wire == nil {
		return nil, errdef.New(errdef.CodeHTTP, "no request to send")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timeout = c.effectiveTimeout(wire, timeout)

	fail := func(cause error) error {
		return errdef.Wrap(errdef.CodeHTTP, classify(ctx, cause, wire.Method, wire.URL, timeout), "")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fail(err)
		}
	}

	var (
		sendCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		sendCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var body io.Reader
	if len(wire.Body) > 0 {
		body = bytes.NewReader(wire.Body)
	}
	httpReq, err := http.NewRequestWithContext(sendCtx, wire.Method, wire.URL, body)
	if err != nil {
		return nil, fail(err)
	}
	httpReq.Header = wire.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}

	spanCtx, span := c.telemetry.Start(httpReq.Context(), telemetry.RequestStart{
		Name:        info.Name,
		RequestID:   info.RequestID,
		HTTPRequest: httpReq,
	})
	httpReq = httpReq.WithContext(spanCtx)

	var traceSess *traceSession
	if c.opts.Trace {
		traceSess = newTraceSession()
		httpReq = traceSess.bind(httpReq)
	}

	defer func() {
		result := telemetry.RequestResult{Err: err}
		if f, ok := AsFailure(err); ok {
			result.FailureKind = string(f.Kind)
		}
		if resp != nil {
			result.StatusCode = resp.StatusCode
			span.RecordTimeline(resp.Timeline)
		}
		span.End(result)
	}()

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("send failed", zap.String("method", wire.Method), zap.String("url", wire.URL), zap.Error(err))
		return nil, fail(err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fail(err)
	}
	duration := time.Since(start)

	resp = &Response{
		Method:       wire.Method,
		Status:       httpResp.Status,
		StatusCode:   httpResp.StatusCode,
		Proto:        httpResp.Proto,
		Headers:      httpResp.Header.Clone(),
		Body:         decodeCharset(payload, httpResp.Header.Get(request.HeaderContentType)),
		Duration:     duration,
		EffectiveURL: wire.URL,
	}
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		resp.EffectiveURL = httpResp.Request.URL.String()
	}
	if traceSess != nil {
		resp.Timeline = traceSess.complete()
	}
	c.logger.Debug("send complete",
		zap.String("method", wire.Method),
		zap.String("url", resp.EffectiveURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", duration),
	)
	return resp, nil
}

func (c *Client) effectiveTimeout(wire *request.Wire, timeout time.Duration) time.Duration {
	switch {
	case timeout > 0:
		return timeout
	case wire.TimeoutMS > 0:
		return time.Duration(wire.TimeoutMS) * time.Millisecond
	default:
		return c.opts.Timeout
	}
}

// decodeCharset converts textual bodies declared in a non UTF-8 charset.
// Anything it cannot decode is returned unchanged.
func decodeCharset(body []byte, contentType string) []byte {
	if len(body) == 0 || contentType == "" {
		return body
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	label := strings.ToLower(strings.TrimSpace(params["charset"]))
	if label == "" || label == "utf-8" || label == "utf8" {
		return body
	}
	reader, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return body
	}
	return decoded
}
