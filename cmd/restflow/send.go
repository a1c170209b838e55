package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/importer"
	"github.com/unkn0wn-root/restflow/internal/pipeline"
	"github.com/unkn0wn-root/restflow/internal/request"
)

type sendOptions struct {
	method   string
	headers  []string
	data     string
	name     string
	folder   string
	pick     string
	record   string
	timeout  time.Duration
	fail     bool
	noRecord bool
	copy     bool
	raw      bool
	verbose  bool
}

func newSendCmd(s *session) *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send [file | url | -]",
		Short: "Resolve, script and send a request",
		Long: heredoc.Doc(`
			Send a request and record it in history and the request store.

			The source may be a definition file (YAML or JSON), a Postman
			collection, a curl command, a bare URL, or "-" for stdin. Use
			--record to resend a stored request by id.
		`),
		Example: heredoc.Doc(`
			$ restflow send requests/login.yaml --env staging
			$ restflow send 'https://{{host}}/health' -H 'Accept: application/json'
			$ echo "curl -X POST https://api.local/items -d '{\"a\":1}'" | restflow send -
			$ restflow send --record 6f1c2a9e
		`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			def, selected, err := opts.definition(a, args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if a.settings.Scripts.Disabled {
				def.Scripts = request.Scripts{}
			}

			res, sendErr := a.executor.Execute(cmd.Context(), pipeline.Input{
				Definition:       def,
				EnvID:            a.envID,
				SelectedRecordID: selected,
				Timeout:          opts.timeout,
				FailOnStatus:     opts.fail,
				SkipRecord:       opts.noRecord,
			})
			printResult(cmd.OutOrStdout(), s.styles(), res, renderOptions{verbose: opts.verbose, raw: opts.raw})

			if opts.copy && res != nil && res.Response != nil {
				if err := clipboard.WriteAll(string(res.Response.Body)); err != nil {
					a.logger.Warn("copy to clipboard failed", zap.Error(err))
				} else {
					fmt.Fprintln(cmd.ErrOrStderr(), s.styles().meta.Render("body copied to clipboard"))
				}
			}
			if sendErr != nil {
				return sendErr
			}
			if res.ScriptFailed() {
				return errScriptsFailed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.method, "method", "X", "", "override the request method")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "add or replace a header (\"Name: value\"); repeatable")
	f.StringVarP(&opts.data, "data", "d", "", "request body; JSON bodies are detected")
	f.StringVar(&opts.name, "name", "", "name stored with the request")
	f.StringVar(&opts.folder, "folder", "", "folder id used for folder-scoped variables")
	f.StringVarP(&opts.pick, "request", "r", "", "pick a request by name or id when the source holds several")
	f.StringVar(&opts.record, "record", "", "resend a stored request and update it in place")
	f.DurationVar(&opts.timeout, "timeout", 0, "request timeout (overrides settings)")
	f.BoolVar(&opts.fail, "fail", false, "exit non-zero on non-2xx responses")
	f.BoolVar(&opts.noRecord, "no-record", false, "do not add the request to the request store")
	f.BoolVar(&opts.copy, "copy", false, "copy the response body to the clipboard")
	f.BoolVar(&opts.raw, "raw", false, "print the body exactly as received")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "print request and response headers")
	return cmd
}

// definition builds the request to send and the record id to overwrite, if any.
func (o sendOptions) definition(a *app, args []string, stdin io.Reader) (request.Definition, string, error) {
	var (
		def      request.Definition
		selected string
	)
	switch {
	case o.record != "":
		rec, ok := findRecord(a, o.record)
		if !ok {
			return def, "", errdef.New(errdef.CodeStorage, "no stored request matches %q", o.record)
		}
		def, selected = rec.Request.Clone(), rec.ID
		if def.FolderID == "" {
			def.FolderID = rec.FolderID
		}
	case len(args) == 0:
		return def, "", errdef.New(errdef.CodeParse, "nothing to send: pass a file, url, - or --record")
	case looksLikeURL(args[0]):
		def = request.Definition{Method: "GET", URL: args[0]}
	default:
		source, err := readSource(args[0], stdin)
		if err != nil {
			return def, "", err
		}
		defs, _, err := importer.Detect(source)
		if err != nil {
			return def, "", err
		}
		def, err = pickDefinition(defs, o.pick)
		if err != nil {
			return def, "", err
		}
	}
	return o.apply(def), selected, nil
}

func (o sendOptions) apply(def request.Definition) request.Definition {
	if o.method != "" {
		def.Method = strings.ToUpper(o.method)
	}
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		def.SetHeader(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if o.data != "" {
		def.Body = request.Body{Type: request.BodyRaw, Raw: o.data}
		if json.Valid([]byte(o.data)) {
			def.Body.Type = request.BodyJSON
		}
		if o.method == "" && strings.EqualFold(def.EffectiveMethod(), "GET") {
			def.Method = "POST"
		}
	}
	if o.name != "" {
		def.Name = o.name
	}
	if o.folder != "" {
		def.FolderID = o.folder
	}
	return def
}

func pickDefinition(defs []request.Definition, pick string) (request.Definition, error) {
	if len(defs) == 0 {
		return request.Definition{}, errdef.New(errdef.CodeParse, "source holds no requests")
	}
	if pick == "" {
		if len(defs) == 1 {
			return defs[0], nil
		}
		names := make([]string, 0, len(defs))
		for _, d := range defs {
			names = append(names, displayName(d))
		}
		return request.Definition{}, errdef.New(errdef.CodeParse,
			"source holds %d requests, pick one with --request: %s", len(defs), strings.Join(names, ", "))
	}
	for _, d := range defs {
		if d.ID == pick || strings.EqualFold(d.Name, pick) {
			return d, nil
		}
	}
	return request.Definition{}, errdef.New(errdef.CodeParse, "no request named %q", pick)
}

func readSource(arg string, stdin io.Reader) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", errdef.Wrap(errdef.CodeFilesystem, err, "read stdin")
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeFilesystem, err, "read %s", arg)
	}
	return string(data), nil
}

func looksLikeURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "{{")
}

func displayName(def request.Definition) string {
	if def.Name != "" {
		return def.Name
	}
	return def.EffectiveMethod() + " " + def.URL
}
