package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/importer"
	"github.com/unkn0wn-root/restflow/internal/records"
	"github.com/unkn0wn-root/restflow/internal/request"
)

type importOptions struct {
	format string
	out    string
	save   bool
	folder string
}

func newImportCmd(s *session) *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import <file | ->",
		Short: "Convert curl commands or Postman collections into definitions",
		Long: heredoc.Doc(`
			Parse a curl command line or a Postman v2.1 collection. The format
			is detected unless --format is given. Definitions can be written
			out as YAML files (--out) and/or added to the request store (--save).
			Collection variables are written next to them as variables.yaml,
			which loads as an environment named "variables".
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defs, format, err := parseImport(source, opts.format)
			if err != nil {
				return err
			}
			var variables map[string]string
			if format == "postman" {
				if col, err := (importer.PostmanParser{}).ParseCollection(source); err == nil && col != nil {
					variables = col.Variables
				}
			}
			if opts.folder != "" {
				for i := range defs {
					defs[i].FolderID = opts.folder
				}
			}

			st := s.styles()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d request(s) from %s\n", st.title.Render("imported"), len(defs), format)
			for _, d := range defs {
				folder := ""
				if d.FolderID != "" {
					folder = st.meta.Render(" [" + d.FolderID + "]")
				}
				fmt.Fprintf(out, "  %-6s %s%s\n", d.EffectiveMethod(), displayName(d), folder)
			}

			if opts.out != "" {
				written, err := writeDefinitions(opts.out, defs, variables)
				if err != nil {
					return err
				}
				for _, path := range written {
					fmt.Fprintf(out, "%s %s\n", st.meta.Render("wrote"), path)
				}
			}
			if opts.save {
				a, err := s.open(cmd.Context())
				if err != nil {
					return err
				}
				for _, d := range defs {
					a.records.Upsert(cmd.Context(), records.Record{
						Name:     d.Name,
						FolderID: d.FolderID,
						Request:  d,
					}, "")
				}
				fmt.Fprintf(out, "%s %d request(s) to the store\n", st.meta.Render("saved"), len(defs))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "source format: curl, postman or definition")
	f.StringVarP(&opts.out, "out", "o", "", "directory to write YAML definitions to")
	f.BoolVar(&opts.save, "save", false, "add the requests to the request store")
	f.StringVar(&opts.folder, "folder", "", "folder id assigned to every imported request")
	return cmd
}

func parseImport(source, format string) ([]request.Definition, string, error) {
	if format == "" {
		return importer.Detect(source)
	}
	p, ok := importer.ByName(format)
	if !ok {
		return nil, "", errdef.New(errdef.CodeConfig, "unknown import format %q", format)
	}
	defs, err := p.Parse(source)
	if err != nil {
		return nil, p.Name(), err
	}
	if defs == nil {
		return nil, p.Name(), errdef.New(errdef.CodeParse, "source is not a %s document", p.Name())
	}
	return defs, p.Name(), nil
}

func writeDefinitions(dir string, defs []request.Definition, variables map[string]string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "create %s", dir)
	}
	var written []string
	used := make(map[string]int)
	for _, d := range defs {
		base := slug(displayName(d))
		used[base]++
		if n := used[base]; n > 1 {
			base = fmt.Sprintf("%s-%d", base, n)
		}
		path := filepath.Join(dir, base+".yaml")
		if err := writeYAML(path, d); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if len(variables) > 0 {
		path := filepath.Join(dir, "variables.yaml")
		if err := writeYAML(path, variables); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errdef.Wrap(errdef.CodeParse, err, "encode %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write %s", path)
	}
	return nil
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "request"
	}
	if len(out) > 60 {
		out = strings.TrimSuffix(out[:60], "-")
	}
	return out
}
