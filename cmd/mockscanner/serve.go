package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/mockscanner/internal/archive"
	"github.com/banshee-data/mockscanner/internal/config"
	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/monitor"
	"github.com/banshee-data/mockscanner/internal/monitoring"
	"github.com/banshee-data/mockscanner/internal/remote"
	"github.com/banshee-data/mockscanner/internal/visualiser"
)

type serveOptions struct {
	httpAddr       string
	remoteAddr     string
	visualiserAddr string
	archivePath    string
	loop           bool
	watch          bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scanner with its HTTP monitor, archive and optional remote and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.applyDefaults(cmd, root.settings)
			return runServe(cmd.Context(), root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.httpAddr, "http", "", "HTTP listen address (default from settings, :8080)")
	f.StringVar(&opts.remoteAddr, "remote", "", "TCP address for remote grabbers; empty disables")
	f.StringVar(&opts.visualiserAddr, "visualiser", "", "gRPC address for live frame streaming; empty disables")
	f.StringVar(&opts.archivePath, "archive", "", "sqlite archive path (default from settings, mockscanner.db)")
	f.BoolVar(&opts.loop, "loop", false, "Grab continuously, waiting wait_time between grabs")
	f.BoolVar(&opts.watch, "watch", true, "Reload the settings file when it changes")
	return cmd
}

// applyDefaults fills flags the user did not set from the settings file.
func (o *serveOptions) applyDefaults(cmd *cobra.Command, s *config.Settings) {
	if !cmd.Flags().Changed("http") {
		o.httpAddr = s.GetHTTPAddr()
	}
	if !cmd.Flags().Changed("remote") {
		o.remoteAddr = s.GetRemoteAddr()
	}
	if !cmd.Flags().Changed("visualiser") {
		o.visualiserAddr = s.GetVisualiserAddr()
	}
	if !cmd.Flags().Changed("archive") {
		o.archivePath = s.GetArchivePath()
	}
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg := root.settings

	a, err := archive.Open(opts.archivePath)
	if err != nil {
		return err
	}
	defer a.Close()

	latest := &detector.Latest{}
	listeners := detector.MultiListener{latest, a, logStatus(monitoring.Logf)}

	if opts.visualiserAddr != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = opts.visualiserAddr
		pub := visualiser.NewPublisher(vcfg)
		if err := pub.Start(); err != nil {
			return fmt.Errorf("visualiser: %w", err)
		}
		defer pub.Stop()
		listeners = append(listeners, pub)
	}

	m, err := newScanner(cfg, listeners)
	if err != nil {
		return err
	}
	defer m.Close()
	if _, err := m.Initialize(nil); err != nil {
		return fmt.Errorf("initialize %s: %w", m.Name(), err)
	}
	params, err := scanParameters(cfg, 0)
	if err != nil {
		return err
	}
	m.UpdateScanner(params)

	g, gctx := errgroup.WithContext(ctx)

	var rd monitor.RemoteDetector
	if opts.remoteAddr != "" {
		srv := remote.NewServerDetector(remote.ServerConfig{Address: opts.remoteAddr, Listener: listeners})
		if _, err := srv.Initialize(nil); err != nil {
			return err
		}
		defer srv.Close()
		rd = srv
		g.Go(func() error { return ignoreCanceled(srv.ListenAndServe(gctx)) })
	}

	web := monitor.NewServer(monitor.Config{
		Address:  opts.httpAddr,
		Scanner:  m,
		Latest:   latest,
		Archive:  a,
		Remote:   rd,
		NAverage: cfg.GetNAverage(),
	})
	g.Go(func() error { return web.ListenAndStart(gctx) })

	if opts.watch && root.configPath != "" {
		w := config.NewWatcher(root.configPath, cfg, func(changes []detector.Setting, _ *config.Settings) {
			for _, c := range changes {
				if _, err := m.CommitSetting(c); err != nil {
					monitoring.Logf("apply %s: %v", c.Name, err)
				}
			}
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	if opts.loop {
		g.Go(func() error { return m.GrabLoop(gctx, cfg.GetNAverage()) })
	}

	return ignoreCanceled(g.Wait())
}
