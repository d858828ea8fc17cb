package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/monitoring"
	"github.com/banshee-data/mockscanner/internal/remote"
)

type clientOptions struct {
	addr     string
	serial   string
	port     remote.PortOptions
	naverage int
}

func newClientCmd(root *rootOptions) *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Serve the mock scanner to a remote TCP server detector",
		Long: `Connects to a server started with 'serve --remote' (or any compatible
grabber server) over TCP or a serial link, announces itself as a grabber and
answers grab and stop commands with the mock scanner.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.addr == "") == (opts.serial == "") {
				return errors.New("exactly one of --addr or --serial is required")
			}
			if opts.naverage <= 0 {
				opts.naverage = root.settings.GetNAverage()
			}

			var rw io.ReadWriteCloser
			var err error
			if opts.addr != "" {
				rw, err = remote.DialTCP(cmd.Context(), opts.addr)
			} else {
				rw, err = remote.OpenSerial(opts.serial, opts.port)
			}
			if err != nil {
				return err
			}
			defer rw.Close()

			c := remote.NewClient(rw, opts.naverage)
			m, err := newScanner(root.settings, detector.MultiListener{c, logStatus(monitoring.Debugf)})
			if err != nil {
				return err
			}
			defer m.Close()
			if _, err := m.Initialize(nil); err != nil {
				return fmt.Errorf("initialize %s: %w", m.Name(), err)
			}
			params, err := scanParameters(root.settings, 0)
			if err != nil {
				return err
			}
			m.UpdateScanner(params)

			monitoring.Logf("serving %s as a remote grabber", m.Name())
			return ignoreCanceled(c.Serve(cmd.Context(), m))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "", "TCP address of the server, e.g. localhost:6341")
	f.StringVar(&opts.serial, "serial", "", "Serial device path, e.g. /dev/ttyUSB0")
	f.IntVar(&opts.port.BaudRate, "baud", 115200, "Serial baud rate")
	f.IntVar(&opts.port.DataBits, "data-bits", 8, "Serial data bits")
	f.IntVar(&opts.port.StopBits, "stop-bits", 1, "Serial stop bits (1 or 2)")
	f.StringVar(&opts.port.Parity, "parity", "N", "Serial parity (N, E or O)")
	f.IntVar(&opts.naverage, "naverage", 0, "Evaluations averaged per point (default from settings)")
	return cmd
}
