package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/records"
)

func newRecordsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"rec"},
		Short:   "Inspect the deduplicated request store",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored requests, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			st := s.styles()
			out := cmd.OutOrStdout()
			recs := a.records.List()
			if len(recs) == 0 {
				fmt.Fprintln(out, st.meta.Render("no stored requests"))
				return nil
			}
			for _, rec := range recs {
				status := st.meta.Render("-")
				if rec.Response != nil {
					status = st.status(rec.Response.StatusCode, fmt.Sprintf("%d", rec.Response.StatusCode))
				}
				name := rec.Name
				if name == "" {
					name = rec.Request.URL
				}
				fmt.Fprintf(out, "%s  %-6s %s %s %s\n",
					st.meta.Render(shortID(rec.ID)),
					rec.Request.EffectiveMethod(),
					name,
					status,
					st.meta.Render(rec.UpdatedAt.Local().Format("2006-01-02 15:04")),
				)
			}
			if a.records.Degraded() {
				fmt.Fprintln(cmd.ErrOrStderr(), st.warn.Render("storage unavailable; showing cached requests only"))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored request and its last response as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			rec, ok := findRecord(a, args[0])
			if !ok {
				return errdef.New(errdef.CodeStorage, "no stored request matches %q", args[0])
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(rec); err != nil {
				return errdef.Wrap(errdef.CodeParse, err, "encode record")
			}
			return enc.Close()
		},
	}

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a stored request",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			rec, ok := findRecord(a, args[0])
			if !ok || !a.records.Delete(cmd.Context(), rec.ID) {
				return errdef.New(errdef.CodeStorage, "no stored request matches %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", rec.ID)
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

// findRecord accepts a full id or an unambiguous prefix.
func findRecord(a *app, id string) (records.Record, bool) {
	if rec, ok := a.records.Get(id); ok {
		return rec, true
	}
	var (
		found records.Record
		n     int
	)
	for _, rec := range a.records.List() {
		if strings.HasPrefix(rec.ID, id) {
			found = rec
			n++
		}
	}
	return found, n == 1
}
