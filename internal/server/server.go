// Package server implements the rendezvous listener, per-client registry,
// relay router and delivery forwarder described as the "Server core" in
// the messaging fabric specification.
//
// One Server serves one domain: clients handshake on a shared rendezvous
// socket, then get a private unique socket for all further 1-to-1
// traffic. Client-originated broadcast/emit requests are routed back out
// through the server; request/reply "deliveries" are correlated here too.
package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ianremillard/ipcfabric/internal/handler"
	"github.com/ianremillard/ipcfabric/internal/proto"
	"github.com/ianremillard/ipcfabric/internal/queue"
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithDomain sets the rendezvous domain (default proto.DefaultDomain).
func WithDomain(domain string) Option {
	return func(s *Server) { s.domain = domain }
}

// WithSocketDir overrides the directory holding socket files (default
// proto.DefaultSocketDir).
func WithSocketDir(dir string) Option {
	return func(s *Server) { s.socketDir = dir }
}

// WithVerbose enables per-frame diagnostic logging.
func WithVerbose(verbose bool) Option {
	return func(s *Server) { s.verbose = verbose }
}

// clientRecord is the server-side bookkeeping entry for one connected
// client.
type clientRecord struct {
	uuid           string
	name           string
	rendezvousConn net.Conn
	uniqueListener net.Listener
	uniqueConn     net.Conn
	uniqueQueue    *queue.Queue
}

// Server is the central supervisor for one domain: it owns the rendezvous
// listener, the name registry, and the delivery correlator.
type Server struct {
	domain    string
	socketDir string
	verbose   bool
	registry  *handler.Registry

	mu         sync.Mutex
	started    bool
	listener   net.Listener
	clients    map[string]*clientRecord // uuid -> record
	byName     map[string]string        // name -> uuid
	deliveries map[string]string        // delivery id -> originator name
}

// New constructs a Server; it does not start listening until Start is
// called.
func New(opts ...Option) *Server {
	s := &Server{
		domain:     proto.DefaultDomain,
		socketDir:  proto.DefaultSocketDir,
		registry:   handler.New(),
		clients:    make(map[string]*clientRecord),
		byName:     make(map[string]string),
		deliveries: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddHandlers registers application command handlers, rejecting reserved
// and duplicate names.
func (s *Server) AddHandlers(handlers map[string]handler.Func) error {
	return s.registry.AddAll(handlers)
}

// IsStarted reports whether Start has succeeded and the listener is live.
func (s *Server) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// rendezvousPath returns this server's rendezvous socket path.
func (s *Server) rendezvousPath() string {
	return proto.RendezvousPath(s.socketDir, s.domain)
}

// Start unlinks any stale rendezvous socket file, binds the rendezvous
// listener and begins accepting in the background. It fails if already
// started.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server: already started on domain %q", s.domain)
	}
	s.mu.Unlock()

	path := s.rendezvousPath()
	os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", path, err)
	}

	s.mu.Lock()
	s.listener = l
	s.started = true
	s.mu.Unlock()

	log.Printf("ipcfabric: server listening on domain %q at %s", s.domain, path)

	go s.acceptLoop(l)
	return nil
}

// Stop closes the rendezvous listener and every connected client's
// sockets. Safe to call on a server that was never started.
func (s *Server) Stop() error {
	s.mu.Lock()
	l := s.listener
	s.started = false
	s.listener = nil
	records := make([]*clientRecord, 0, len(s.clients))
	for _, rec := range s.clients {
		records = append(records, rec)
	}
	s.mu.Unlock()

	for _, rec := range records {
		s.removeClient(rec)
	}
	if l != nil {
		return l.Close()
	}
	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			// Listener closed by Stop(); exit quietly.
			return
		}
		go s.handleRendezvous(conn)
	}
}

func (s *Server) logVerbose(format string, args ...any) {
	if s.verbose {
		log.Printf(format, args...)
	}
}

// newChannelID generates a hex UUIDv4 with hyphens stripped, used as a
// client's channel id.
func newChannelID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
