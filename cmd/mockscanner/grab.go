package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/mockscanner/internal/archive"
	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/httputil"
	"github.com/banshee-data/mockscanner/internal/monitor"
)

type grabOptions struct {
	server      string
	naverage    int
	points      int
	archivePath string
	csvPath     string
}

func newGrabCmd(root *rootOptions) *cobra.Command {
	opts := &grabOptions{}
	cmd := &cobra.Command{
		Use:   "grab",
		Short: "Run one grab locally, or on a running server with --server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.naverage <= 0 {
				opts.naverage = root.settings.GetNAverage()
			}
			var (
				ev  detector.GrabEvent
				err error
			)
			if opts.server != "" {
				ev, err = grabRemote(cmd.Context(), opts)
			} else {
				ev, err = grabLocal(cmd.Context(), root, opts)
			}
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), ev)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "", "Base URL of a running 'mockscanner serve'")
	f.IntVar(&opts.naverage, "naverage", 0, "Evaluations averaged per point (default from settings)")
	f.IntVar(&opts.points, "points", 0, "Scan points per axis (default from settings)")
	f.StringVar(&opts.archivePath, "archive", "", "Record the grab in this sqlite archive")
	f.StringVar(&opts.csvPath, "csv", "", "Write the grab as CSV cells; requires --archive")
	return cmd
}

func grabRemote(ctx context.Context, opts *grabOptions) (detector.GrabEvent, error) {
	c := httputil.NewAPIClient(opts.server, nil)
	var resp monitor.GrabResponse
	err := c.PostJSON(ctx, "/api/grab", monitor.GrabRequest{NAverage: opts.naverage, Wait: true}, &resp)
	if err != nil {
		return detector.GrabEvent{}, err
	}
	if resp.Event == nil {
		return detector.GrabEvent{}, errors.New("server returned no result")
	}
	if opts.csvPath != "" {
		f, err := os.Create(opts.csvPath)
		if err != nil {
			return *resp.Event, err
		}
		defer f.Close()
		data, err := c.GetRaw(ctx, "/api/grabs/"+resp.Event.ID.String()+".csv")
		if err != nil {
			return *resp.Event, err
		}
		if _, err := f.Write(data); err != nil {
			return *resp.Event, err
		}
	}
	return *resp.Event, nil
}

func grabLocal(ctx context.Context, root *rootOptions, opts *grabOptions) (detector.GrabEvent, error) {
	if opts.csvPath != "" && opts.archivePath == "" {
		return detector.GrabEvent{}, errors.New("--csv requires --archive")
	}
	latest := &detector.Latest{}
	listeners := detector.MultiListener{latest}

	var a *archive.Archive
	if opts.archivePath != "" {
		var err error
		if a, err = archive.Open(opts.archivePath); err != nil {
			return detector.GrabEvent{}, err
		}
		defer a.Close()
		listeners = append(listeners, a)
	}

	m, err := newScanner(root.settings, listeners)
	if err != nil {
		return detector.GrabEvent{}, err
	}
	defer m.Close()
	params, err := scanParameters(root.settings, opts.points)
	if err != nil {
		return detector.GrabEvent{}, err
	}
	m.UpdateScanner(params)
	if err := m.Grab(ctx, opts.naverage); err != nil {
		return detector.GrabEvent{}, err
	}
	ev, ok := latest.Final()
	if !ok {
		return ev, errors.New("grab produced no result")
	}
	if opts.csvPath != "" {
		if err := exportCSV(ctx, a, ev.ID, opts.csvPath); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

func exportCSV(ctx context.Context, a *archive.Archive, id uuid.UUID, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := a.ExportCSV(ctx, id, f); err != nil {
		f.Close()
		return fmt.Errorf("export %s: %w", id, err)
	}
	return f.Close()
}

// grabSummary is printed after a grab.
type grabSummary struct {
	ID      uuid.UUID `json:"id"`
	Index   uint64    `json:"index"`
	Steps   int       `json:"steps"`
	Total   int       `json:"total"`
	Aborted bool      `json:"aborted"`
	Rows    int       `json:"rows"`
	Cols    int       `json:"cols"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Mean    float64   `json:"mean"`
}

func summarize(ev detector.GrabEvent) grabSummary {
	s := grabSummary{ID: ev.ID, Index: ev.Index, Steps: ev.Steps, Total: ev.Total, Aborted: ev.Aborted}
	if len(ev.Data) == 0 || len(ev.Data[0].Data) == 0 {
		return s
	}
	m := ev.Data[0].Data[0]
	if m == nil || m.IsEmpty() {
		return s
	}
	s.Rows, s.Cols = m.Dims()
	values := make([]float64, 0, s.Rows*s.Cols)
	for _, row := range detector.Rows(m) {
		values = append(values, row...)
	}
	s.Min, s.Max, s.Mean = floats.Min(values), floats.Max(values), stat.Mean(values, nil)
	return s
}

func writeSummary(w io.Writer, ev detector.GrabEvent) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summarize(ev))
}
