package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/monitoring"
	"github.com/banshee-data/mockscanner/internal/timeutil"
)

// ServerDetectorName tags every payload re-emitted by the server.
const ServerDetectorName = "TCP Server 2D"

// DefaultAddress is the listen address used when none is configured.
const DefaultAddress = ":6341"

// ErrNotConnected is returned when a command needs a remote grabber and none
// is connected.
var ErrNotConnected = errors.New("no remote grabber connected")

// ServerConfig configures a ServerDetector.
type ServerConfig struct {
	Address  string
	Listener detector.Listener
	Clock    timeutil.Clock
}

// ServerDetector is a detector whose data comes from a remote grabber. It
// accepts one grabber at a time; a new connection replaces the previous one.
type ServerDetector struct {
	address  string
	listener detector.Listener
	clock    timeutil.Clock

	mu    sync.Mutex
	conn  net.Conn
	enc   *Encoder
	xAxis []float64
	yAxis []float64

	grabs atomic.Uint64
}

var _ detector.Detector = (*ServerDetector)(nil)

// NewServerDetector creates a server that reports to cfg.Listener.
func NewServerDetector(cfg ServerConfig) *ServerDetector {
	l := cfg.Listener
	if l == nil {
		l = detector.ListenerFuncs{}
	}
	addr := cfg.Address
	if addr == "" {
		addr = DefaultAddress
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ServerDetector{address: addr, listener: l, clock: clock}
}

func (s *ServerDetector) Name() string { return ServerDetectorName }

// Initialize reports the last axes received from the grabber, if any.
func (s *ServerDetector) Initialize(controller any) (*detector.Status, error) {
	x, y := s.Axes()
	return &detector.Status{
		Initialized: true,
		Info:        "waiting for a grabber on " + s.address,
		XAxis:       detector.NewAxis("x", x),
		YAxis:       detector.NewAxis("y", y),
		Controller:  controller,
	}, nil
}

// Grab asks the connected grabber for one acquisition. The data arrives
// asynchronously through DataReady.
func (s *ServerDetector) Grab(ctx context.Context, naverage int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.send(CmdGrab)
}

// Stop forwards a stop request to the grabber. The message is non-empty when
// no grabber is connected.
func (s *ServerDetector) Stop() string {
	if err := s.send(CmdStop); err != nil {
		return err.Error()
	}
	return ""
}

// CommitSetting accepts no settings of its own.
func (s *ServerDetector) CommitSetting(st detector.Setting) (*detector.ThreadCommand, error) {
	return nil, fmt.Errorf("%w: %q", detector.ErrUnknownSetting, st.Name)
}

// Close drops the current grabber connection.
func (s *ServerDetector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.enc = nil, nil
	return err
}

// Connected reports whether a grabber is connected.
func (s *ServerDetector) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Axes returns the last axes received from the grabber.
func (s *ServerDetector) Axes() (x, y []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xAxis, s.yAxis
}

// DataReady re-emits arrays received from the grabber as a final 2D result,
// attaching the last received axes.
func (s *ServerDetector) DataReady(arrays []*mat.Dense) {
	x, y := s.Axes()
	index := s.grabs.Add(1)
	s.listener.OnFinalResult(detector.GrabEvent{
		ID:       uuid.New(),
		Detector: ServerDetectorName,
		Index:    index,
		Final:    true,
		Time:     s.clock.Now(),
		Data: []detector.DataFromPlugins{{
			Name:  ServerDetectorName,
			Dim:   detector.Data2D,
			Data:  arrays,
			XAxis: detector.NewAxis("x", x),
			YAxis: detector.NewAxis("y", y),
		}},
	})
}

// Dispatch applies one message received from the grabber.
func (s *ServerDetector) Dispatch(msg Message) {
	switch msg.Command {
	case CmdDone:
		s.DataReady(msg.Arrays)
	case CmdXAxis:
		s.mu.Lock()
		s.xAxis = msg.Axis
		s.mu.Unlock()
	case CmdYAxis:
		s.mu.Lock()
		s.yAxis = msg.Axis
		s.mu.Unlock()
	default:
		monitoring.Logf("remote: ignoring unknown command %q", msg.Command)
	}
}

func (s *ServerDetector) send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return ErrNotConnected
	}
	if err := s.enc.WriteString(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *ServerDetector) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts grabbers on ln until ctx is cancelled. It closes ln and
// every open connection, then waits for their handlers before returning
// ctx.Err().
func (s *ServerDetector) Serve(ctx context.Context, ln net.Listener) error {
	monitoring.Logf("remote server listening on %s", ln.Addr())

	var (
		connsMu sync.Mutex
		conns   = make(map[net.Conn]struct{})
	)
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		connsMu.Lock()
		for c := range conns {
			c.Close()
		}
		connsMu.Unlock()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ln.Close()
			return fmt.Errorf("accept: %w", err)
		}
		connsMu.Lock()
		conns[conn] = struct{}{}
		connsMu.Unlock()
		if ctx.Err() != nil {
			conn.Close()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(conn)
			connsMu.Lock()
			delete(conns, conn)
			connsMu.Unlock()
		}()
	}
}

func (s *ServerDetector) handle(conn net.Conn) {
	defer conn.Close()
	dec := NewDecoder(conn)
	kind, err := dec.ReadString()
	if err != nil {
		monitoring.Logf("remote: handshake from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	if kind != GrabberType {
		monitoring.Logf("remote: rejecting client %s of type %q", conn.RemoteAddr(), kind)
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn, s.enc = conn, NewEncoder(conn)
	s.mu.Unlock()
	monitoring.Logf("remote: grabber connected from %s", conn.RemoteAddr())

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn, s.enc = nil, nil
		}
		s.mu.Unlock()
	}()

	for {
		msg, err := dec.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				monitoring.Logf("remote: read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		s.Dispatch(msg)
	}
}
