package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/chroma/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/unkn0wn-root/restflow/internal/history"
	"github.com/unkn0wn-root/restflow/internal/httpclient"
	"github.com/unkn0wn-root/restflow/internal/pipeline"
	"github.com/unkn0wn-root/restflow/internal/scripts"
)

type styles struct {
	color   bool
	title   lipgloss.Style
	meta    lipgloss.Style
	key     lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	pass    lipgloss.Style
	fail    lipgloss.Style
	divider lipgloss.Style
}

func newStyles(out io.Writer, noColor bool) styles {
	r := lipgloss.NewRenderer(out)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		color:   r.ColorProfile() != termenv.Ascii,
		title:   r.NewStyle().Bold(true),
		meta:    r.NewStyle().Foreground(lipgloss.Color("245")),
		key:     r.NewStyle().Foreground(lipgloss.Color("39")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		err:     r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		pass:    r.NewStyle().Foreground(lipgloss.Color("42")),
		fail:    r.NewStyle().Foreground(lipgloss.Color("196")),
		divider: r.NewStyle().Foreground(lipgloss.Color("238")),
	}
}

func (s styles) status(code int, text string) string {
	switch {
	case code >= 200 && code < 300:
		return s.ok.Render(text)
	case code >= 300 && code < 400:
		return s.warn.Render(text)
	default:
		return s.err.Render(text)
	}
}

type renderOptions struct {
	verbose bool
	raw     bool
}

func printResult(w io.Writer, st styles, res *pipeline.Result, opts renderOptions) {
	if res == nil {
		return
	}
	if opts.verbose && res.Wire != nil {
		fmt.Fprintf(w, "%s %s\n", st.title.Render(res.Wire.Method), res.Wire.URL)
		printHeaders(w, st, res.Wire.Header, "> ")
		if len(res.Missing) > 0 {
			fmt.Fprintf(w, "%s %s\n", st.warn.Render("unresolved:"), strings.Join(res.Missing, ", "))
		}
		fmt.Fprintln(w)
	}
	printScript(w, st, "pre-request", res.PreRequest)

	if resp := res.Response; resp != nil {
		fmt.Fprintf(w, "%s %s %s\n",
			st.status(resp.StatusCode, resp.Status),
			st.meta.Render(resp.Proto),
			st.meta.Render(resp.Duration.Round(time.Millisecond).String()),
		)
		if opts.verbose {
			printHeaders(w, st, resp.Headers, "< ")
		}
		fmt.Fprintln(w)
		printBody(w, st, resp, opts.raw)
		printTrace(w, st, res.History.Trace)
	}

	printScript(w, st, "test", res.Test)
}

func printHeaders(w io.Writer, st styles, h http.Header, prefix string) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h[name] {
			fmt.Fprintf(w, "%s%s: %s\n", st.meta.Render(prefix), st.key.Render(name), v)
		}
	}
}

func printBody(w io.Writer, st styles, resp *httpclient.Response, raw bool) {
	if len(resp.Body) == 0 {
		return
	}
	body := string(resp.Body)
	if !raw && isJSON(resp.Headers.Get("Content-Type"), resp.Body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, resp.Body, "", "  "); err == nil {
			body = buf.String()
		}
		if st.color {
			var out bytes.Buffer
			if err := quick.Highlight(&out, body, "json", "terminal256", "monokai"); err == nil {
				body = out.String()
			}
		}
	}
	fmt.Fprintln(w, strings.TrimRight(body, "\n"))
}

func printTrace(w io.Writer, st styles, trace *history.TraceSummary) {
	if trace == nil || len(trace.Phases) == 0 {
		return
	}
	fmt.Fprintln(w, st.divider.Render(strings.Repeat("─", 32)))
	for _, p := range trace.Phases {
		line := fmt.Sprintf("%-10s %s", p.Kind, p.Duration)
		if p.Reused {
			line += " (reused)"
		}
		fmt.Fprintln(w, st.meta.Render(line))
	}
}

func printScript(w io.Writer, st styles, label string, res *scripts.Result) {
	if res == nil {
		return
	}
	for _, line := range res.Logs {
		fmt.Fprintf(w, "%s %s\n", st.meta.Render("["+label+"]"), line)
	}
	for _, tc := range res.Tests {
		if tc.Passed {
			fmt.Fprintf(w, "%s %s\n", st.pass.Render("✓"), tc.Name)
			continue
		}
		fmt.Fprintf(w, "%s %s: %s\n", st.fail.Render("✗"), tc.Name, tc.Message)
	}
}

func isJSON(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if mt == "application/json" || strings.HasSuffix(mt, "+json") {
			return true
		}
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed)
}

func printEntry(w io.Writer, st styles, e history.Entry) {
	status := st.err.Render("ERR")
	if !e.Failed() {
		status = st.status(e.StatusCode, fmt.Sprintf("%d", e.StatusCode))
	}
	fmt.Fprintf(w, "%s  %s  %-6s %s %s\n",
		st.meta.Render(shortID(e.ID)),
		st.meta.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
		e.Method,
		e.URL,
		status,
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
