package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restflow/internal/errdef"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	exitOK           = 0
	exitError        = 1
	exitScriptFailed = 3
)

// errScriptsFailed marks a run whose request went through but whose scripts
// threw or reported failing tests.
var errScriptsFailed = errors.New("scripts reported failures")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	s := &session{out: out, errOut: errOut}
	defer s.close()

	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errScriptsFailed) {
			return exitScriptFailed
		}
		fmt.Fprintf(errOut, "%s %s\n", s.styles().err.Render("error:"), errdef.Message(err))
		return exitError
	}
	return exitOK
}

func newRootCmd(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:   "restflow",
		Short: "Send, script and record HTTP requests",
		Long: heredoc.Doc(`
			restflow resolves {{variables}} from layered scopes, runs pre-request
			and test scripts, dispatches the request and records the result in
			history and a deduplicated request store.

			Settings are read from settings.toml or settings.json in the config
			directory ($RESTFLOW_CONFIG_DIR or the user config dir).
		`),
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&s.flags.configDir, "config-dir", "", "directory holding settings.toml")
	pf.StringVarP(&s.flags.envName, "env", "e", "", "environment to resolve variables from")
	pf.StringArrayVar(&s.flags.envFiles, "env-file", nil, "environment file to load (.env, YAML or JSON); repeatable")
	pf.StringVar(&s.flags.logLevel, "log-level", "", "override the configured log level")
	pf.StringVar(&s.flags.storageDriver, "storage", "", "storage driver: file, sqlite or memory")
	pf.StringVar(&s.flags.storagePath, "data-dir", "", "storage location")
	pf.BoolVar(&s.flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newSendCmd(s),
		newImportCmd(s),
		newHistoryCmd(s),
		newRecordsCmd(s),
		newEnvCmd(s),
		newConfigCmd(s),
	)
	return root
}
