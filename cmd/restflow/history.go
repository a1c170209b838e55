package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/history"
)

func newHistoryCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Inspect and prune execution history",
	}

	var (
		limit    int
		failed   bool
		asJSON   bool
		fullJSON bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			entries := a.history.Entries()
			if failed {
				kept := entries[:0]
				for _, e := range entries {
					if e.Failed() || e.StatusCode >= 400 {
						kept = append(kept, e)
					}
				}
				entries = kept
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			st := s.styles()
			if len(entries) == 0 {
				fmt.Fprintln(out, st.meta.Render("history is empty"))
				return nil
			}
			for _, e := range entries {
				printEntry(out, st, e)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to print; 0 prints all")
	list.Flags().BoolVar(&failed, "failed", false, "only failed executions and error responses")
	list.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			e, ok := findEntry(a.history, args[0])
			if !ok {
				return errdef.New(errdef.CodeHistory, "no history entry matches %q", args[0])
			}
			out := cmd.OutOrStdout()
			if fullJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(e)
			}
			st := s.styles()
			printEntry(out, st, e)
			if e.Name != "" {
				fmt.Fprintf(out, "%s %s\n", st.key.Render("name:"), e.Name)
			}
			if e.Error != "" {
				fmt.Fprintf(out, "%s %s\n", st.err.Render("error:"), e.Error)
			} else {
				fmt.Fprintf(out, "%s %dms\n", st.key.Render("elapsed:"), e.ElapsedMS)
			}
			printTrace(out, st, e.Trace)
			return nil
		},
	}
	show.Flags().BoolVar(&fullJSON, "json", false, "print the entry as JSON")

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Remove one execution",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			e, ok := findEntry(a.history, args[0])
			if !ok || !a.history.Delete(e.ID) {
				return errdef.New(errdef.CodeHistory, "no history entry matches %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", e.ID)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			n := a.history.Len()
			a.history.Clear()
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, show, del, clearCmd)
	return cmd
}

func findEntry(store *history.Store, id string) (history.Entry, bool) {
	if e, ok := store.Get(id); ok {
		return e, true
	}
	var (
		found history.Entry
		n     int
	)
	for _, e := range store.Entries() {
		if strings.HasPrefix(e.ID, id) {
			found = e
			n++
		}
	}
	return found, n == 1
}
