// Package client implements the dual-socket connect/handshake protocol,
// reconnection state machine, and discover/deliver correlators described
// as the "Client core" in the messaging fabric specification.
package client

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ianremillard/ipcfabric/internal/handler"
	"github.com/ianremillard/ipcfabric/internal/proto"
	"github.com/ianremillard/ipcfabric/internal/queue"
)

// state is one of the client's mutually-exclusive connection states.
type state int

const (
	stateIdle state = iota
	stateConnectingBcast
	stateAwaitingHandshake
	stateConnectingUnique
	stateConnected
	stateOffline
)

// ErrAlreadyConnecting is returned by Connect when the client is already
// connecting, connected, or waiting between reconnect attempts.
var ErrAlreadyConnecting = errors.New("client: already connecting or connected")

// DefaultReconnectDelay is the fixed delay between an Offline transition
// and the next connection attempt.
const DefaultReconnectDelay = 2 * time.Second

// DiscoverResult is the payload of a completed discover() call.
type DiscoverResult struct {
	Clients         []string
	CommandHandlers []string
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithDomain sets the rendezvous domain (default proto.DefaultDomain).
func WithDomain(domain string) Option {
	return func(c *Client) { c.domain = domain }
}

// WithSocketDir overrides the directory holding socket files (default
// proto.DefaultSocketDir).
func WithSocketDir(dir string) Option {
	return func(c *Client) { c.socketDir = dir }
}

// WithName sets the client's friendly name (default: a random hex UUIDv4).
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithVerbose enables per-frame diagnostic logging.
func WithVerbose(verbose bool) Option {
	return func(c *Client) { c.verbose = verbose }
}

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// Client is one peer's connection to a Server domain.
type Client struct {
	domain         string
	socketDir      string
	name           string
	verbose        bool
	reconnectDelay time.Duration
	registry       *handler.Registry

	bcastQueue  *queue.Queue
	uniqueQueue *queue.Queue

	mu                sync.Mutex
	state             state
	channelID         string
	bcastConn         net.Conn
	uniqueConn        net.Conn
	offlineNotify     chan struct{}
	closed            bool
	pendingDiscovery  chan DiscoverResult
	pendingDeliveries map[string]chan any
}

// New constructs a Client; Connect must be called to reach the fabric.
func New(opts ...Option) *Client {
	c := &Client{
		domain:            proto.DefaultDomain,
		socketDir:         proto.DefaultSocketDir,
		name:              strings.ReplaceAll(uuid.New().String(), "-", ""),
		reconnectDelay:    DefaultReconnectDelay,
		registry:          handler.New(),
		bcastQueue:        queue.New(),
		uniqueQueue:       queue.New(),
		pendingDeliveries: make(map[string]chan any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the client's friendly name.
func (c *Client) Name() string { return c.name }

// AddHandlers registers application command handlers, rejecting reserved
// and duplicate names.
func (c *Client) AddHandlers(handlers map[string]handler.Func) error {
	return c.registry.AddAll(handlers)
}

// IsConnected reports whether the unique socket is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// IsStarted reports whether Connect has been called (the client is
// connecting, connected, or between reconnect attempts).
func (c *Client) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateIdle
}

func (c *Client) rendezvousPath() string {
	return proto.RendezvousPath(c.socketDir, c.domain)
}

func (c *Client) logVerbose(format string, args ...any) {
	if c.verbose {
		log.Printf(format, args...)
	}
}

// Connect spawns the rendezvous socket, performs the handshake, spawns the
// unique socket, and keeps reconnecting every reconnectDelay on any drop
// thereafter. It fails immediately with ErrAlreadyConnecting if already
// connecting, connected, or waiting to reconnect; otherwise it returns a channel that receives
// the outcome of the *first* connection attempt (nil on success) exactly
// once. Later reconnects run silently in the background — callers poll
// IsConnected if they need to observe them.
func (c *Client) Connect() (<-chan error, error) {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return nil, ErrAlreadyConnecting
	}
	c.closed = false
	c.state = stateConnectingBcast
	c.mu.Unlock()

	first := make(chan error, 1)
	go c.runLoop(first)
	return first, nil
}

// Close disposes of the client: it stops reconnecting, closes any open
// sockets, and discards pending discover/deliver sinks by closing their
// channels without a value.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.state = stateIdle
	bc, uc := c.bcastConn, c.uniqueConn
	c.bcastConn, c.uniqueConn = nil, nil
	if c.pendingDiscovery != nil {
		close(c.pendingDiscovery)
		c.pendingDiscovery = nil
	}
	for id, ch := range c.pendingDeliveries {
		close(ch)
		delete(c.pendingDeliveries, id)
	}
	c.mu.Unlock()

	if bc != nil {
		bc.Close()
	}
	if uc != nil {
		uc.Close()
	}
	c.bcastQueue.Detach()
	c.uniqueQueue.Detach()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// runLoop drives the reconnect state machine for the lifetime of the
// client, exactly once reporting the outcome of the first attempt on
// first (if non-nil).
func (c *Client) runLoop(first chan error) {
	for {
		if c.isClosed() {
			return
		}

		err := c.attemptConnect()
		if first != nil {
			first <- err
			close(first)
			first = nil
		}

		if err == nil {
			c.waitUntilOffline()
		} else {
			c.setOffline()
		}

		if c.isClosed() {
			return
		}
		time.Sleep(c.reconnectDelay)
	}
}

// attemptConnect runs the ConnectingBcast -> AwaitingHandshake ->
// ConnectingUnique -> Connected sequence once.
func (c *Client) attemptConnect() error {
	c.mu.Lock()
	c.state = stateConnectingBcast
	c.offlineNotify = make(chan struct{})
	c.mu.Unlock()

	bcastConn, err := net.Dial("unix", c.rendezvousPath())
	if err != nil {
		return fmt.Errorf("client: dial rendezvous: %w", err)
	}

	c.mu.Lock()
	c.bcastConn = bcastConn
	c.state = stateAwaitingHandshake
	c.mu.Unlock()

	bcastFrames := make(chan proto.Frame, 16)
	go c.readLoop(bcastConn, bcastFrames, false)

	handshake := proto.CommandFrame(proto.CmdHandshake, c.name)
	if _, err := bcastConn.Write(proto.Encode(handshake)); err != nil {
		bcastConn.Close()
		return fmt.Errorf("client: send handshake: %w", err)
	}

	reply, ok := <-bcastFrames
	if !ok {
		bcastConn.Close()
		return errors.New("client: rendezvous closed before handshake reply")
	}
	if proto.StringOr(reply.Command, "") == proto.CmdError {
		bcastConn.Close()
		return fmt.Errorf("client: handshake rejected: %v", reply.Data)
	}
	uid, _ := reply.Data.(string)
	if uid == "" || proto.StringOr(reply.ID, "") != c.name {
		bcastConn.Close()
		return fmt.Errorf("client: unexpected handshake reply: %+v", reply)
	}

	c.mu.Lock()
	c.channelID = uid
	c.state = stateConnectingUnique
	c.mu.Unlock()

	uniqueConn, err := dialUniqueWithRetry(proto.UniquePath(c.rendezvousPath(), uid))
	if err != nil {
		bcastConn.Close()
		return fmt.Errorf("client: dial unique: %w", err)
	}

	c.mu.Lock()
	c.uniqueConn = uniqueConn
	c.state = stateConnected
	c.mu.Unlock()

	c.bcastQueue.Attach(bcastConn)
	c.uniqueQueue.Attach(uniqueConn)

	go c.dispatchBcastLoop(bcastFrames)
	go c.readLoop(uniqueConn, nil, true)

	return nil
}

// dialUniqueWithRetry tolerates the brief window between the server
// spawning its unique listener and that listener actually being ready to
// accept.
func dialUniqueWithRetry(path string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < 20; i++ {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(10 * time.Millisecond)
	}
	return nil, lastErr
}

func (c *Client) waitUntilOffline() {
	c.mu.Lock()
	ch := c.offlineNotify
	c.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

// setOffline transitions to Offline without an established connection to
// tear down (used when attemptConnect itself fails before Connected).
func (c *Client) setOffline() {
	c.mu.Lock()
	c.state = stateOffline
	c.channelID = ""
	bc, uc := c.bcastConn, c.uniqueConn
	c.bcastConn, c.uniqueConn = nil, nil
	c.mu.Unlock()

	if bc != nil {
		bc.Close()
	}
	if uc != nil {
		uc.Close()
	}
	c.bcastQueue.Detach()
	c.uniqueQueue.Detach()
}

// goOffline is called by a read loop observing a socket drop. The "owner"
// guard ensures only the first of the two read loops to notice performs
// the transition and closes offlineNotify.
func (c *Client) goOffline() {
	c.mu.Lock()
	if c.state != stateConnected && c.state != stateConnectingUnique &&
		c.state != stateAwaitingHandshake && c.state != stateConnectingBcast {
		c.mu.Unlock()
		return
	}
	c.state = stateOffline
	c.channelID = ""
	bc, uc := c.bcastConn, c.uniqueConn
	c.bcastConn, c.uniqueConn = nil, nil
	notify := c.offlineNotify
	c.offlineNotify = nil
	c.mu.Unlock()

	if bc != nil {
		bc.Close()
	}
	if uc != nil {
		uc.Close()
	}
	c.bcastQueue.Detach()
	c.uniqueQueue.Detach()

	if notify != nil {
		close(notify)
	}
}
