package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mockscanner/internal/archive"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var archivePath string
	cmd := &cobra.Command{
		Use:       "migrate <up|down|version|force N>",
		Short:     "Manage the archive schema",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("archive") {
				archivePath = root.settings.GetArchivePath()
			}
			a, err := archive.OpenNoMigrate(archivePath)
			if err != nil {
				return err
			}
			defer a.Close()

			switch args[0] {
			case "up":
				err = a.MigrateUp()
			case "down":
				err = a.MigrateDown()
			case "force":
				if len(args) != 2 {
					return fmt.Errorf("force requires a version")
				}
				v, perr := strconv.Atoi(args[1])
				if perr != nil {
					return fmt.Errorf("invalid version %q: %w", args[1], perr)
				}
				err = a.MigrateForce(v)
			case "version":
			default:
				return fmt.Errorf("unknown migrate action %q", args[0])
			}
			if err != nil {
				return err
			}
			version, dirty, err := a.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%v\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "sqlite archive path (default from settings)")
	return cmd
}
