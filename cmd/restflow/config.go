package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restflow/internal/config"
	"github.com/unkn0wn-root/restflow/internal/errdef"
)

func newConfigCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the settings file",
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.handle.Path)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			data, err := toml.Marshal(a.settings)
			if err != nil {
				return errdef.Wrap(errdef.CodeConfig, err, "encode settings")
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := os.Stat(a.handle.Path); err == nil && !force {
				return errdef.New(errdef.CodeConfig, "%s already exists; use --force to overwrite", a.handle.Path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return errdef.Wrap(errdef.CodeFilesystem, err, "stat %s", a.handle.Path)
			}
			if err := config.SaveSettings(a.settings, a.handle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", a.handle.Path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(path, show, initCmd)
	return cmd
}
