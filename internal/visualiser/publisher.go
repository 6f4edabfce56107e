// Package visualiser streams completed steps to live viewers over gRPC.
//
// The service is described in code rather than generated: requests and
// step messages are google.protobuf.Struct values, so any gRPC client can
// consume the stream with the well-known types alone.
package visualiser

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/reconstruct"
)

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50052")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is the number of steps queued per client before steps
	// are dropped for it.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50052",
		MaxClients:   5,
		ClientBuffer: 16,
	}
}

// clientStream represents a connected streaming client.
type clientStream struct {
	id     string
	simID  string // empty for every simulation
	stepCh chan *structpb.Struct
}

// Publisher is a reconstruct.Sink that broadcasts every step to the
// connected clients without blocking the caller.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	stepCount    atomic.Uint64
	clientCount  atomic.Int32
	droppedSteps atomic.Uint64

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[string]*clientStream),
	}
}

// Start binds the listener and serves in the background.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}

	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	p.listener = lis

	p.server = grpc.NewServer()
	p.server.RegisterService(&serviceDesc, p)
	p.running.Store(true)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[visualiser] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)

	// Streams only end when their clients go away or the server stops, so
	// close them before waiting on in-flight RPCs.
	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.stepCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()

	p.server.GracefulStop()
	p.wg.Wait()
	monitoring.Logf("[visualiser] gRPC server stopped")
}

// Emit converts out to a Struct and offers it to every interested client.
// Clients whose queue is full miss the step.
func (p *Publisher) Emit(_ context.Context, out *reconstruct.StepOutput) error {
	p.stepCount.Add(1)
	if p.clientCount.Load() == 0 {
		return nil
	}

	msg, err := StepStruct(out)
	if err != nil {
		return err
	}

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		if c.simID != "" && c.simID != out.SimID {
			continue
		}
		select {
		case c.stepCh <- msg:
		default:
			// Client is slow, drop step for this client.
			p.droppedSteps.Add(1)
		}
	}
	return nil
}

// StepStruct renders a step as it appears on the stream: the JSON form of
// the step output.
func StepStruct(out *reconstruct.StepOutput) (*structpb.Struct, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal step %d: %w", out.Step, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func (p *Publisher) addClient(simID string) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if !p.running.Load() {
		return nil, status.Error(codes.Unavailable, "publisher stopped")
	}
	if len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "at most %d clients", p.config.MaxClients)
	}
	c := &clientStream{
		id:     fmt.Sprintf("grpc-%d", p.nextID.Add(1)),
		simID:  simID,
		stepCh: make(chan *structpb.Struct, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	p.clientCount.Add(1)
	monitoring.Logf("[visualiser] client connected: %s sim=%q (total: %d)", c.id, simID, p.clientCount.Load())
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
	}
	p.clientCount.Add(-1)
	monitoring.Logf("[visualiser] client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		StepCount:    p.stepCount.Load(),
		ClientCount:  p.clientCount.Load(),
		DroppedSteps: p.droppedSteps.Load(),
		Running:      p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	StepCount    uint64
	ClientCount  int32
	DroppedSteps uint64
	Running      bool
}

func (p *Publisher) stream(req *structpb.Struct, stream grpc.ServerStream) error {
	simID := req.GetFields()["sim_id"].GetStringValue()
	c, err := p.addClient(simID)
	if err != nil {
		return err
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.stepCh:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) statsStruct() (*structpb.Struct, error) {
	st := p.Stats()
	return structpb.NewStruct(map[string]any{
		"steps":   float64(st.StepCount),
		"clients": float64(st.ClientCount),
		"dropped": float64(st.DroppedSteps),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
