package httpclient

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/unkn0wn-root/restflow/internal/telemetry"
)

const (
	phaseDNS     = "dns"
	phaseConnect = "connect"
	phaseTLS     = "tls"
	phaseTTFB    = "ttfb"
)

// traceSession records connection phases through httptrace hooks.
type traceSession struct {
	mu      sync.Mutex
	started time.Time
	open    map[string]*telemetry.Phase
	phases  []telemetry.Phase
	reused  bool
	trace   *httptrace.ClientTrace
}

func newTraceSession() *traceSession {
	s := &traceSession{started: time.Now(), open: make(map[string]*telemetry.Phase)}
	s.trace = &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			s.begin(phaseDNS, info.Host)
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			addr := ""
			if len(info.Addrs) > 0 {
				addr = info.Addrs[0].String()
			}
			s.end(phaseDNS, addr)
		},
		ConnectStart: func(_, addr string) {
			s.begin(phaseConnect, addr)
		},
		ConnectDone: func(_, addr string, _ error) {
			s.end(phaseConnect, addr)
		},
		TLSHandshakeStart: func() {
			s.begin(phaseTLS, "")
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			s.end(phaseTLS, "")
		},
		GotConn: func(info httptrace.GotConnInfo) {
			s.mu.Lock()
			s.reused = info.Reused
			s.mu.Unlock()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			s.begin(phaseTTFB, "")
		},
		GotFirstResponseByte: func() {
			s.end(phaseTTFB, "")
		},
	}
	return s
}

func (s *traceSession) bind(req *http.Request) *http.Request {
	return req.WithContext(httptrace.WithClientTrace(req.Context(), s.trace))
}

func (s *traceSession) begin(kind, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[kind] = &telemetry.Phase{Kind: kind, Start: time.Now(), Addr: addr}
}

func (s *traceSession) end(kind, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	phase, ok := s.open[kind]
	if !ok {
		return
	}
	delete(s.open, kind)
	phase.End = time.Now()
	if addr != "" {
		phase.Addr = addr
	}
	s.phases = append(s.phases, *phase)
}

func (s *traceSession) complete() *telemetry.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl := &telemetry.Timeline{
		Started:   s.started,
		Completed: time.Now(),
		Phases:    append([]telemetry.Phase(nil), s.phases...),
	}
	if s.reused {
		tl.Phases = append(tl.Phases, telemetry.Phase{Kind: phaseConnect, Reused: true})
	}
	return tl
}
