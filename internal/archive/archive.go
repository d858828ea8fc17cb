// Package archive stores final grab results in sqlite and serves them back
// for export and debugging.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/monitoring"
)

// ErrNotFound is returned when a grab id is not in the archive.
var ErrNotFound = errors.New("grab not found")

// Archive is a sqlite-backed store of final grab results. It implements
// detector.Listener so it can be attached directly to a detector.
type Archive struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the archive at path and applies pending
// migrations.
func Open(path string) (*Archive, error) {
	a, err := OpenNoMigrate(path)
	if err != nil {
		return nil, err
	}
	if err := a.MigrateUp(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// OpenNoMigrate opens the archive without touching its schema, for the
// migrate command.
func OpenNoMigrate(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	// One connection keeps the per-connection pragmas in force.
	db.SetMaxOpenConns(1)

	return &Archive{db: db, path: path}, nil
}

// DB exposes the underlying database handle.
func (a *Archive) DB() *sql.DB { return a.db }

func (a *Archive) Close() error { return a.db.Close() }

// Summary is one row of List.
type Summary struct {
	ID       uuid.UUID `json:"id"`
	Detector string    `json:"detector"`
	Index    uint64    `json:"index"`
	Steps    int       `json:"steps"`
	Total    int       `json:"total"`
	Aborted  bool      `json:"aborted"`
	Arrays   int       `json:"arrays"`
	Time     time.Time `json:"time"`
}

// Record stores a final event. Partial events are rejected.
func (a *Archive) Record(ctx context.Context, ev detector.GrabEvent) error {
	if !ev.Final {
		return fmt.Errorf("grab %s: only final results are archived", ev.ID)
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO grabs (grab_id, detector, grab_index, steps, total, aborted, captured_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.Detector, int64(ev.Index), ev.Steps, ev.Total, ev.Aborted, ev.Time.UnixNano())
	if err != nil {
		return fmt.Errorf("insert grab %s: %w", ev.ID, err)
	}

	seq := 0
	for _, d := range ev.Data {
		xAxis, err := marshalAxis(d.XAxis)
		if err != nil {
			return err
		}
		yAxis, err := marshalAxis(d.YAxis)
		if err != nil {
			return err
		}
		for k, m := range d.Data {
			var label sql.NullString
			if k < len(d.Labels) {
				label = sql.NullString{String: d.Labels[k], Valid: true}
			}
			var rows, cols int
			var blob []byte
			if m != nil && !m.IsEmpty() {
				rows, cols = m.Dims()
				if blob, err = m.MarshalBinary(); err != nil {
					return fmt.Errorf("encode array %d of grab %s: %w", seq, ev.ID, err)
				}
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO grab_arrays (grab_id, seq, name, dim, label, n_rows, n_cols, x_axis, y_axis, grid)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ev.ID.String(), seq, d.Name, d.Dim, label, rows, cols, xAxis, yAxis, blob)
			if err != nil {
				return fmt.Errorf("insert array %d of grab %s: %w", seq, ev.ID, err)
			}
			seq++
		}
	}
	return tx.Commit()
}

// List returns the most recent grabs, newest first. limit <= 0 returns all.
func (a *Archive) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT g.grab_id, g.detector, g.grab_index, g.steps, g.total, g.aborted, g.captured_ns,
		       (SELECT COUNT(*) FROM grab_arrays a WHERE a.grab_id = g.grab_id)
		FROM grabs g
		ORDER BY g.captured_ns DESC, g.grab_index DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s     Summary
			id    string
			index int64
			ns    int64
		)
		if err := rows.Scan(&id, &s.Detector, &index, &s.Steps, &s.Total, &s.Aborted, &ns, &s.Arrays); err != nil {
			return nil, err
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt grab id %q: %w", id, err)
		}
		s.Index = uint64(index)
		s.Time = time.Unix(0, ns).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get rebuilds a stored event. Each stored array becomes its own payload.
func (a *Archive) Get(ctx context.Context, id uuid.UUID) (detector.GrabEvent, error) {
	ev := detector.GrabEvent{ID: id, Final: true}
	var index, ns int64
	err := a.db.QueryRowContext(ctx, `
		SELECT detector, grab_index, steps, total, aborted, captured_ns
		FROM grabs WHERE grab_id = ?`, id.String()).
		Scan(&ev.Detector, &index, &ev.Steps, &ev.Total, &ev.Aborted, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return ev, err
	}
	ev.Index = uint64(index)
	ev.Time = time.Unix(0, ns).UTC()

	rows, err := a.db.QueryContext(ctx, `
		SELECT name, dim, label, n_rows, n_cols, x_axis, y_axis, grid
		FROM grab_arrays WHERE grab_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return ev, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d            detector.DataFromPlugins
			label        sql.NullString
			nRows, nCols int
			xAxis, yAxis sql.NullString
			blob         []byte
		)
		if err := rows.Scan(&d.Name, &d.Dim, &label, &nRows, &nCols, &xAxis, &yAxis, &blob); err != nil {
			return ev, err
		}
		if label.Valid {
			d.Labels = []string{label.String}
		}
		if d.XAxis, err = unmarshalAxis(xAxis); err != nil {
			return ev, err
		}
		if d.YAxis, err = unmarshalAxis(yAxis); err != nil {
			return ev, err
		}
		m := &mat.Dense{}
		if nRows > 0 && nCols > 0 {
			if err := m.UnmarshalBinary(blob); err != nil {
				return ev, fmt.Errorf("decode array of grab %s: %w", id, err)
			}
		}
		d.Data = []*mat.Dense{m}
		ev.Data = append(ev.Data, d)
	}
	return ev, rows.Err()
}

// OnPartialResult ignores partial results.
func (a *Archive) OnPartialResult(detector.GrabEvent) {}

// OnFinalResult records ev, logging failures.
func (a *Archive) OnFinalResult(ev detector.GrabEvent) {
	if err := a.Record(context.Background(), ev); err != nil {
		monitoring.Logf("archive: %v", err)
	}
}

func marshalAxis(ax *detector.Axis) (sql.NullString, error) {
	if ax == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ax)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalAxis(s sql.NullString) (*detector.Axis, error) {
	if !s.Valid {
		return nil, nil
	}
	var ax detector.Axis
	if err := json.Unmarshal([]byte(s.String), &ax); err != nil {
		return nil, fmt.Errorf("corrupt axis %q: %w", s.String, err)
	}
	return &ax, nil
}
