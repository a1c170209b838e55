package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
	"github.com/unkn0wn-root/restflow/internal/telemetry"
)

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSendReturnsResponse(t *testing.T) {
	var gotBody, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-Result", "ok")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	wire, err := Build(request.Definition{
		Method: "POST",
		URL:    srv.URL + "/items",
		Auth:   request.AuthSpec{Type: request.AuthBearer, Params: map[string]string{"token": "XYZ"}},
		Body:   request.Body{Type: request.BodyJSON, Raw: `{"name":"a"}`},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	resp, err := newTestClient(t, Options{Timeout: 5 * time.Second}).Send(context.Background(), wire, 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusCreated || resp.StatusText() != "Created" {
		t.Fatalf("unexpected status %d %q", resp.StatusCode, resp.StatusText())
	}
	if string(resp.Body) != `{"id":1}` || resp.Headers.Get("X-Result") != "ok" {
		t.Fatalf("unexpected response %#v", resp)
	}
	if gotBody != `{"name":"a"}` || gotAuth != "Bearer XYZ" {
		t.Fatalf("server saw body %q auth %q", gotBody, gotAuth)
	}
	if err := CheckStatus(resp); err != nil {
		t.Fatalf("2xx should pass CheckStatus: %v", err)
	}
}

func TestSendNon2xxIsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing thing", http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, Options{}).Send(context.Background(), &request.Wire{Method: "GET", URL: srv.URL}, time.Second)
	if err != nil {
		t.Fatalf("non-2xx must not be an error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	err = CheckStatus(resp)
	f, ok := AsFailure(err)
	if !ok || f.Kind != FailureHTTP || f.StatusCode != http.StatusNotFound {
		t.Fatalf("expected http failure, got %v", err)
	}
	if !strings.Contains(errdef.Message(err), "404") || !strings.Contains(errdef.Message(err), "missing thing") {
		t.Fatalf("message should carry status and body: %q", errdef.Message(err))
	}
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestClient(t, Options{}).Send(context.Background(), &request.Wire{Method: "GET", URL: srv.URL}, 50*time.Millisecond)
	f, ok := AsFailure(err)
	if !ok || f.Kind != FailureTimeout {
		t.Fatalf("expected timeout failure, got %v", err)
	}
	if errdef.CodeOf(err) != errdef.CodeHTTP {
		t.Fatalf("expected http code, got %v", errdef.CodeOf(err))
	}
}

func TestSendWireTimeoutMS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestClient(t, Options{Timeout: time.Minute}).Send(context.Background(), &request.Wire{Method: "GET", URL: srv.URL, TimeoutMS: 50}, 0)
	if f, ok := AsFailure(err); !ok || f.Kind != FailureTimeout {
		t.Fatalf("expected wire timeout to apply, got %v", err)
	}
}

func TestSendAborted(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := newTestClient(t, Options{}).Send(ctx, &request.Wire{Method: "GET", URL: srv.URL}, 5*time.Second)
	f, ok := AsFailure(err)
	if !ok || f.Kind != FailureAborted {
		t.Fatalf("expected aborted failure, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("aborted failure should wrap context.Canceled: %v", err)
	}
}

func TestSendNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestClient(t, Options{}).Send(context.Background(), &request.Wire{Method: "GET", URL: addr}, time.Second)
	f, ok := AsFailure(err)
	if !ok || f.Kind != FailureNetwork {
		t.Fatalf("expected network failure, got %v", err)
	}
	if !strings.HasPrefix(errdef.Message(err), "GET "+addr) {
		t.Fatalf("message should name the request: %q", errdef.Message(err))
	}

	_, err = newTestClient(t, Options{}).Send(context.Background(), &request.Wire{Method: "GET", URL: "{{base}}/x"}, time.Second)
	if f, ok := AsFailure(err); !ok || f.Kind != FailureNetwork {
		t.Fatalf("unresolved url should fail as network error, got %v", err)
	}
}

func TestSendDecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write([]byte("caf\xe9"))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, Options{}).Send(context.Background(), &request.Wire{Method: "GET", URL: srv.URL}, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Body) != "café" {
		t.Fatalf("expected decoded body, got %q", resp.Body)
	}
}

func TestSendRecordsSpanAndTimeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	recorder := sdktrace.NewSpanRecorder()
	inst, err := telemetry.New(telemetry.Config{ServiceName: "test"}, telemetry.WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("telemetry.New: %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	c := newTestClient(t, Options{Trace: true})
	c.SetTelemetry(inst)
	resp, err := c.SendNamed(context.Background(), &request.Wire{Method: "GET", URL: srv.URL}, time.Second, SendInfo{Name: "ping"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Timeline == nil || resp.Timeline.Duration() <= 0 {
		t.Fatalf("expected timeline, got %#v", resp.Timeline)
	}
	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "ping" {
		t.Fatalf("expected one span named ping, got %d", len(spans))
	}
}

func TestSendRateLimitHonoursCancel(t *testing.T) {
	c := newTestClient(t, Options{RateLimit: 0.001, Burst: 1})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	if _, err := c.Send(context.Background(), &request.Wire{Method: "GET", URL: srv.URL}, time.Second); err != nil {
		t.Fatalf("first send within burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, &request.Wire{Method: "GET", URL: srv.URL}, time.Second)
	if _, ok := AsFailure(err); !ok {
		t.Fatalf("expected a failure while waiting on the limiter, got %v", err)
	}
}
