package client

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ianremillard/ipcfabric/internal/proto"
)

// Send enqueues command/data on the unique queue, the direct
// client-to-server path. The returned channel receives the write's
// outcome once it has been fully written to the unique socket.
func (c *Client) Send(command string, data any) <-chan error {
	return c.uniqueQueue.Enqueue(proto.CommandFrame(command, data))
}

// Emit asks the server to relay command/data to the client named name,
// fire-and-forget. The returned channel signals only that the emit
// envelope itself reached the rendezvous socket, not that name received it.
func (c *Client) Emit(name, command string, data any) <-chan error {
	inner := proto.InnerEnvelope{ID: name, Command: command, Data: data}
	return c.bcastQueue.Enqueue(proto.Frame{Command: proto.Str(proto.CmdEmit), Data: inner})
}

// Broadcast asks the server to relay command/data to every other
// connected client in the domain.
func (c *Client) Broadcast(command string, data any) <-chan error {
	inner := proto.InnerEnvelope{Command: command, Data: data}
	return c.bcastQueue.Enqueue(proto.Frame{Command: proto.Str(proto.CmdBroadcast), Data: inner})
}

// Discover asks the server for the set of connected client names and
// registered command handlers. Concurrent calls share the same pending
// result until it completes.
func (c *Client) Discover() <-chan DiscoverResult {
	c.mu.Lock()
	if c.pendingDiscovery != nil {
		ch := c.pendingDiscovery
		c.mu.Unlock()
		return ch
	}
	ch := make(chan DiscoverResult, 1)
	c.pendingDiscovery = ch
	c.mu.Unlock()

	c.bcastQueue.Enqueue(proto.CommandFrame(proto.CmdDiscover, nil))
	return ch
}

// Deliver sends command/data directly to the server (no target name) and
// waits for its registered handler's return value, delivered back on the
// same unique socket.
func (c *Client) Deliver(command string, data any) <-chan any {
	id := newDeliveryID()
	ch := c.registerDelivery(id)
	c.uniqueQueue.Enqueue(proto.Frame{
		Command:  proto.Str(command),
		Data:     data,
		Delivery: proto.Str(id),
	})
	return ch
}

// DeliverTo asks the server to relay command/data to the client named
// name and waits for that client's handler's return value, correlated by
// a fresh delivery id.
func (c *Client) DeliverTo(name, command string, data any) <-chan any {
	id := newDeliveryID()
	ch := c.registerDelivery(id)
	inner := proto.InnerEnvelope{ID: name, Command: command, Data: data, Delivery: id}
	c.bcastQueue.Enqueue(proto.Frame{
		Command:  proto.Str(proto.CmdEmit),
		Data:     inner,
		Delivery: proto.Str(id),
	})
	return ch
}

func (c *Client) registerDelivery(id string) chan any {
	ch := make(chan any, 1)
	c.mu.Lock()
	c.pendingDeliveries[id] = ch
	c.mu.Unlock()
	return ch
}

func newDeliveryID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
