package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restflow/internal/errdef"
)

func newEnvCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Inspect environments and resolve templates",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List loaded environments; the active one is marked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			st := s.styles()
			out := cmd.OutOrStdout()
			names := a.vars.Environments()
			if len(names) == 0 {
				fmt.Fprintln(out, st.meta.Render("no environments loaded; pass --env-file or set vars.files"))
				return nil
			}
			for _, name := range names {
				if name == a.envID {
					fmt.Fprintf(out, "%s %s\n", st.ok.Render("*"), name)
					continue
				}
				fmt.Fprintf(out, "  %s\n", name)
			}
			return nil
		},
	}

	var showGlobals bool
	show := &cobra.Command{
		Use:   "show [name]",
		Short: "Print the variables of an environment (default: the active one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			name := a.envID
			if len(args) == 1 {
				name = args[0]
			}
			snap := a.vars.Snapshot()
			values := snap.Global
			label := "globals"
			if !showGlobals {
				env, ok := snap.Environments[name]
				if !ok {
					return errdef.New(errdef.CodeConfig, "unknown environment %q", name)
				}
				values, label = env, name
			}
			st := s.styles()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, st.title.Render(label))
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %s = %s\n", st.key.Render(k), values[k])
			}
			return nil
		},
	}
	show.Flags().BoolVar(&showGlobals, "globals", false, "print the global scope instead")

	var folder string
	resolve := &cobra.Command{
		Use:   "resolve <template>...",
		Short: "Expand {{placeholders}} against the active scopes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			r := a.vars.Scopes(folder, a.envID).Resolver(folder, a.envID)
			text := strings.Join(args, " ")
			fmt.Fprintln(cmd.OutOrStdout(), r.Expand(text))
			if missing := r.Missing(text); len(missing) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", s.styles().warn.Render("unresolved:"), strings.Join(missing, ", "))
			}
			return nil
		},
	}
	resolve.Flags().StringVar(&folder, "folder", "", "folder id whose variables take part")

	cmd.AddCommand(list, show, resolve)
	return cmd
}
