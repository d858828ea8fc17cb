package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/monitoring"
)

// Client serves a local detector to a remote ServerDetector. It is the
// detector's Listener: final results are written back as Done messages.
type Client struct {
	rw       io.ReadWriter
	naverage int

	wmu sync.Mutex
	enc *Encoder

	grabbing atomic.Bool
}

// NewClient wraps a connected stream. naverage is passed to every grab.
func NewClient(rw io.ReadWriter, naverage int) *Client {
	return &Client{rw: rw, naverage: naverage, enc: NewEncoder(rw)}
}

// DialTCP connects to a server.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return conn, nil
}

// OnPartialResult is ignored; only final results cross the link.
func (c *Client) OnPartialResult(detector.GrabEvent) {}

// OnFinalResult sends the axes of the first payload followed by every array.
func (c *Client) OnFinalResult(ev detector.GrabEvent) {
	var arrays []*mat.Dense
	for _, d := range ev.Data {
		arrays = append(arrays, d.Data...)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.writeResult(ev, arrays); err != nil {
		monitoring.Logf("remote client: send result %d: %v", ev.Index, err)
	}
}

func (c *Client) writeResult(ev detector.GrabEvent, arrays []*mat.Dense) error {
	if len(ev.Data) > 0 {
		if x := ev.Data[0].XAxis; x.Len() > 0 {
			if err := c.enc.WriteAxis(CmdXAxis, x.Data); err != nil {
				return err
			}
		}
		if y := ev.Data[0].YAxis; y.Len() > 0 {
			if err := c.enc.WriteAxis(CmdYAxis, y.Data); err != nil {
				return err
			}
		}
	}
	return c.enc.WriteDone(arrays)
}

// Serve announces itself as a grabber and executes grab and stop commands
// on d until the stream ends or ctx is cancelled. Grabs run in the
// background so a stop can interrupt them; at most one runs at a time.
func (c *Client) Serve(ctx context.Context, d detector.Detector) error {
	c.wmu.Lock()
	err := c.enc.WriteString(GrabberType)
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	if closer, ok := c.rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { closer.Close() })
		defer stop()
	}

	gctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	dec := NewDecoder(c.rw)
	for {
		cmd, err := dec.ReadString()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		switch cmd {
		case CmdGrab:
			if !c.grabbing.CompareAndSwap(false, true) {
				monitoring.Logf("remote client: grab already running, ignoring request")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.grabbing.Store(false)
				if err := d.Grab(gctx, c.naverage); err != nil {
					monitoring.Logf("remote client: grab failed: %v", err)
				}
			}()
		case CmdStop:
			d.Stop()
		default:
			monitoring.Logf("remote client: ignoring unknown command %q", cmd)
		}
	}
}
