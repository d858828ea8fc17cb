// Package visualiser streams grab results to remote display clients over
// gRPC.
package visualiser

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/mockscanner/internal/detector"
)

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061").
	ListenAddr string
	// MaxClients caps concurrent streams; 0 means no limit.
	MaxClients int
	// QueueSize is the depth of the shared and per-client frame queues.
	QueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50061",
		MaxClients: 5,
		QueueSize:  16,
	}
}

// Publisher fans grab results out to streaming clients. It implements
// detector.Listener; frames are dropped rather than blocking the grab loop.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	frameChan chan *Frame
	clients   map[uuid.UUID]*clientStream
	clientsMu sync.RWMutex

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id      uuid.UUID
	frameCh chan *Frame
}

var _ detector.Listener = (*Publisher)(nil)

// NewPublisher creates a stopped publisher.
func NewPublisher(cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Publisher{
		config:    cfg,
		frameChan: make(chan *Frame, cfg.QueueSize),
		clients:   make(map[uuid.UUID]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.StartOn(lis)
}

// StartOn serves on lis in the background.
func (p *Publisher) StartOn(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		lis.Close()
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterDataViewerServer(p.server, NewServer(p))

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		log.Printf("[Visualiser] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.listener.Close()
	p.wg.Wait()
	log.Printf("[Visualiser] gRPC server stopped")
}

// Addr returns the listening address, or nil when stopped.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

func (p *Publisher) OnPartialResult(ev detector.GrabEvent) { p.Publish(FrameFromEvent(ev)) }
func (p *Publisher) OnFinalResult(ev detector.GrabEvent)   { p.Publish(FrameFromEvent(ev)) }

// Publish queues a frame for every client, dropping it when the queue is
// full.
func (p *Publisher) Publish(f *Frame) {
	if !p.running.Load() || f == nil {
		return
	}
	select {
	case p.frameChan <- f:
		p.frameCount.Add(1)
	default:
		dropped := p.droppedFrames.Add(1)
		log.Printf("[Visualiser] DROPPED frame of grab %s (total dropped: %d), channel full", f.GrabID, dropped)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frameChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.frameCh <- frame:
				default:
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient() (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("too many clients (max %d)", p.config.MaxClients)
	}
	c := &clientStream{id: uuid.New(), frameCh: make(chan *Frame, p.config.QueueSize)}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	log.Printf("[Visualiser] Client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id uuid.UUID) {
	p.clientsMu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		log.Printf("[Visualiser] Client disconnected: %s (remaining: %d)", id, n)
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64
	DroppedFrames uint64
	ClientCount   int32
	Running       bool
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}
