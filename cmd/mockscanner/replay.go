package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mockscanner/internal/archive"
	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/remote"
)

func newReplayCmd() *cobra.Command {
	var (
		port        uint16
		archivePath string
	)
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Decode a captured remote grabber session and optionally archive its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var results int
			listeners := detector.MultiListener{detector.ListenerFuncs{
				Final: func(detector.GrabEvent) { results++ },
			}}
			if archivePath != "" {
				a, err := archive.Open(archivePath)
				if err != nil {
					return err
				}
				defer a.Close()
				listeners = append(listeners, a)
			}

			sink := remote.NewServerDetector(remote.ServerConfig{Listener: listeners})
			stats, err := remote.ReplayCapture(f, port, sink)
			if err != nil {
				return fmt.Errorf("replay %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packets=%d segments=%d bytes=%d messages=%d results=%d\n",
				stats.Packets, stats.Segments, stats.Bytes, stats.Messages, results)
			return nil
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 6341, "Server TCP port in the capture")
	cmd.Flags().StringVar(&archivePath, "archive", "", "Record replayed results in this sqlite archive")
	return cmd
}
