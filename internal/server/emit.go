package server

import "github.com/ianremillard/ipcfabric/internal/proto"

// Emit writes a frame to the named client's unique socket, enqueuing it on
// that client's FIFO so ordering matches every other frame addressed to
// them. If name is unknown or the client has no writable unique socket
// yet, Emit no-ops; the miss is logged only when verbose logging is on.
func (s *Server) Emit(name, command string, data any, delivery string) {
	s.mu.Lock()
	uid, ok := s.byName[name]
	var rec *clientRecord
	if ok {
		rec = s.clients[uid]
	}
	s.mu.Unlock()

	if rec == nil || rec.uniqueQueue == nil {
		s.logVerbose("ipcfabric: server: emit %q to %q missed: no connected client", command, name)
		return
	}

	var deliveryPtr *string
	if delivery != "" {
		deliveryPtr = proto.Str(delivery)
	}
	rec.uniqueQueue.Enqueue(proto.Frame{
		Command:  proto.Str(command),
		Data:     data,
		Delivery: deliveryPtr,
	})
}

// Broadcast writes a frame to every connected client's unique socket
// except the one named initiator (so a client-triggered broadcast is
// never echoed back to its originator).
func (s *Server) Broadcast(command string, data any, initiator string) {
	s.mu.Lock()
	targets := make([]*clientRecord, 0, len(s.clients))
	for _, rec := range s.clients {
		if rec.name != initiator && rec.uniqueQueue != nil {
			targets = append(targets, rec)
		}
	}
	s.mu.Unlock()

	frame := proto.Frame{Command: proto.Str(command), Data: data}
	for _, rec := range targets {
		rec.uniqueQueue.Enqueue(frame)
	}
}
