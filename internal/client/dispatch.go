package client

import (
	"log"
	"net"

	"github.com/ianremillard/ipcfabric/internal/handler"
	"github.com/ianremillard/ipcfabric/internal/proto"
)

// readLoop owns conn for its lifetime. Non-unique connections (the
// rendezvous socket) push every decoded frame onto frames for sequential
// hand-off between the in-flight handshake wait and dispatchBcastLoop;
// unique connections are dispatched directly since nothing else consumes
// them. Either way, a read error/EOF triggers the Offline transition.
func (c *Client) readLoop(conn net.Conn, frames chan proto.Frame, isUnique bool) {
	dec := &proto.StreamDecoder{}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				if isUnique {
					c.dispatchUniqueFrame(f)
				} else if frames != nil {
					frames <- f
				}
			}
		}
		if err != nil {
			if frames != nil {
				close(frames)
			}
			c.goOffline()
			return
		}
	}
}

func (c *Client) dispatchBcastLoop(frames chan proto.Frame) {
	for f := range frames {
		c.dispatchBcastFrame(f)
	}
}

func (c *Client) dispatchBcastFrame(f proto.Frame) {
	cmd := proto.StringOr(f.Command, "")
	c.logVerbose("ipcfabric: client %s recv rendezvous %s: %+v", c.name, cmd, f)

	switch cmd {
	case proto.CmdDiscover:
		c.mu.Lock()
		ch := c.pendingDiscovery
		c.pendingDiscovery = nil
		c.mu.Unlock()
		if ch != nil {
			ch <- parseDiscoverResult(f.Data)
			close(ch)
		}

	case proto.CmdError:
		log.Printf("ipcfabric: client %s: rendezvous error %v", c.name, f.Data)
	}
}

// dispatchUniqueFrame handles a frame arriving on the unique socket from
// the client's side: forward a completed delivery to its pending sink, or
// invoke the registered handler and synthesize a delivery reply when
// requested.
func (c *Client) dispatchUniqueFrame(f proto.Frame) {
	cmd := proto.StringOr(f.Command, "")
	c.logVerbose("ipcfabric: client %s recv unique %s: %+v", c.name, cmd, f)

	if cmd == proto.CmdDelivery && f.Delivery != nil {
		c.mu.Lock()
		ch, ok := c.pendingDeliveries[*f.Delivery]
		if ok {
			delete(c.pendingDeliveries, *f.Delivery)
		}
		c.mu.Unlock()
		if ok {
			ch <- f.Data
			close(ch)
		}
		return
	}

	var result any
	if h, ok := c.registry.Get(cmd); ok {
		c.mu.Lock()
		uniqueConn := c.uniqueConn
		channelID := c.channelID
		c.mu.Unlock()
		ctx := handler.Context{Data: f.Data, Name: c.name, UUID: channelID, Conn: uniqueConn}
		result = handler.Invoke(cmd, h, ctx)
	}
	if f.Delivery != nil {
		c.uniqueQueue.Enqueue(proto.Frame{
			Command:  proto.Str(proto.CmdDelivery),
			Data:     result,
			Delivery: f.Delivery,
		})
	}
}

func parseDiscoverResult(data any) DiscoverResult {
	m, _ := data.(map[string]any)
	return DiscoverResult{
		Clients:         toStringSlice(m["clients"]),
		CommandHandlers: toStringSlice(m["command_handlers"]),
	}
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
