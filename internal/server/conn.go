package server

import (
	"io"
	"log"
	"net"
	"os"

	"github.com/ianremillard/ipcfabric/internal/handler"
	"github.com/ianremillard/ipcfabric/internal/proto"
	"github.com/ianremillard/ipcfabric/internal/queue"
)

// handleRendezvous owns one accepted rendezvous connection for its entire
// lifetime: it reads handshake/discover/broadcast/emit frames from the
// client and dispatches each one, tracking which clientRecord (if any)
// this connection has become once the handshake succeeds.
func (s *Server) handleRendezvous(conn net.Conn) {
	uid := newChannelID()
	var rec *clientRecord
	var closeErr error

	defer func() {
		conn.Close()
		if rec != nil {
			log.Printf("ipcfabric: server: rendezvous socket for %q closed: %v", rec.name, closeErr)
			s.removeClient(rec)
		}
	}()

	dec := &proto.StreamDecoder{}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				if r := s.dispatchRendezvous(conn, uid, rec, f); r != nil {
					rec = r
				}
			}
		}
		if err != nil {
			closeErr = err
			return
		}
	}
}

func (s *Server) dispatchRendezvous(conn net.Conn, uid string, rec *clientRecord, f proto.Frame) *clientRecord {
	cmd := proto.StringOr(f.Command, "")
	s.logVerbose("ipcfabric: server recv rendezvous %s: %+v", cmd, f)

	switch cmd {
	case proto.CmdHandshake:
		name, _ := f.Data.(string)
		return s.handleHandshake(conn, uid, name)

	case proto.CmdDiscover:
		s.handleDiscover(conn, rec)

	case proto.CmdBroadcast:
		s.handleBroadcastRelay(rec, f)

	case proto.CmdEmit:
		s.handleEmitRelay(rec, f)

	default:
		log.Printf("ipcfabric: server: unhandled rendezvous command %q", cmd)
	}
	return nil
}

func (s *Server) handleHandshake(conn net.Conn, uid, name string) *clientRecord {
	s.mu.Lock()
	if _, taken := s.byName[name]; taken {
		s.mu.Unlock()
		writeFrame(conn, proto.TargetFrame(name, proto.CmdError, proto.ErrNameTaken))
		return nil
	}

	rec := &clientRecord{uuid: uid, name: name, rendezvousConn: conn}
	s.clients[uid] = rec
	s.byName[name] = uid
	s.mu.Unlock()

	uniquePath := proto.UniquePath(s.rendezvousPath(), uid)
	os.Remove(uniquePath)
	l, err := net.Listen("unix", uniquePath)
	if err != nil {
		log.Printf("ipcfabric: server: unique listen for %q: %v", name, err)
		s.removeClient(rec)
		return nil
	}
	rec.uniqueListener = l

	writeFrame(conn, proto.TargetFrame(name, proto.CmdHandshake, uid))

	go s.acceptUnique(rec, l)
	return rec
}

func (s *Server) acceptUnique(rec *clientRecord, l net.Listener) {
	conn, err := l.Accept()
	l.Close()

	s.mu.Lock()
	rec.uniqueListener = nil
	s.mu.Unlock()

	if err != nil {
		s.removeClient(rec)
		return
	}

	q := queue.New()
	s.mu.Lock()
	rec.uniqueConn = conn
	rec.uniqueQueue = q
	s.mu.Unlock()
	q.Attach(conn)

	s.readUniqueLoop(rec, conn)
}

func (s *Server) readUniqueLoop(rec *clientRecord, conn net.Conn) {
	var closeErr error
	defer func() {
		conn.Close()
		log.Printf("ipcfabric: server: unique socket for %q closed: %v", rec.name, closeErr)
		s.removeClient(rec)
	}()

	dec := &proto.StreamDecoder{}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				s.dispatchUnique(rec, f)
			}
		}
		if err != nil {
			closeErr = err
			return
		}
	}
}

// dispatchUnique handles a frame arriving on a client's unique socket:
// forward a delivery reply to its originator, or invoke the registered
// application handler and synthesize a delivery reply when requested.
func (s *Server) dispatchUnique(rec *clientRecord, f proto.Frame) {
	cmd := proto.StringOr(f.Command, "")
	s.logVerbose("ipcfabric: server recv unique %s from %s: %+v", cmd, rec.name, f)

	if cmd == proto.CmdDelivery && f.Delivery != nil {
		s.mu.Lock()
		originator, ok := s.deliveries[*f.Delivery]
		if ok {
			delete(s.deliveries, *f.Delivery)
		}
		s.mu.Unlock()
		if ok {
			s.Emit(originator, proto.CmdDelivery, f.Data, *f.Delivery)
		}
		return
	}

	var result any
	if h, ok := s.registry.Get(cmd); ok {
		result = handler.Invoke(cmd, h, handlerContext(rec, f))
	}
	if f.Delivery != nil {
		s.Emit(rec.name, proto.CmdDelivery, result, *f.Delivery)
	}
}

func (s *Server) handleDiscover(conn net.Conn, rec *clientRecord) {
	s.mu.Lock()
	clients := make([]string, 0, len(s.byName))
	for name := range s.byName {
		clients = append(clients, name)
	}
	s.mu.Unlock()

	originator := ""
	if rec != nil {
		originator = rec.name
	}

	writeFrame(conn, proto.TargetFrame(originator, proto.CmdDiscover, map[string]any{
		"clients":          clients,
		"command_handlers": s.registry.Names(),
	}))
}

func (s *Server) handleBroadcastRelay(rec *clientRecord, f proto.Frame) {
	if rec == nil {
		return
	}
	_, command, data, _, ok := proto.Inner(f.Data)
	if !ok {
		return
	}
	s.Broadcast(command, data, rec.name)
}

func (s *Server) handleEmitRelay(rec *clientRecord, f proto.Frame) {
	if rec == nil {
		return
	}
	targetID, command, data, innerDelivery, ok := proto.Inner(f.Data)
	if !ok {
		return
	}

	delivery := innerDelivery
	if f.Delivery != nil {
		delivery = proto.StringOr(f.Delivery, delivery)
		s.mu.Lock()
		s.deliveries[*f.Delivery] = rec.name
		s.mu.Unlock()
	}

	s.Emit(targetID, command, data, delivery)
}

// handlerContext builds the Context passed to a registered handler for a
// frame arriving on a client's unique socket.
func handlerContext(rec *clientRecord, f proto.Frame) handler.Context {
	return handler.Context{Data: f.Data, Name: rec.name, UUID: rec.uuid, Conn: rec.uniqueConn}
}

// writeFrame writes a single encoded frame directly to conn, bypassing
// the send queue. Used for immediate control replies (handshake ack/error,
// discover reply) that are not part of the FIFO application traffic.
func writeFrame(conn net.Conn, f proto.Frame) {
	if conn == nil {
		return
	}
	if _, err := conn.Write(proto.Encode(f)); err != nil && err != io.EOF {
		log.Printf("ipcfabric: server: write failed: %v", err)
	}
}

// removeClient tears down every resource owned by rec and unregisters it,
// guarding against double-removal when both the rendezvous and unique
// read loops observe the same disconnect.
func (s *Server) removeClient(rec *clientRecord) {
	s.mu.Lock()
	existing, ok := s.clients[rec.uuid]
	if ok && existing == rec {
		delete(s.clients, rec.uuid)
		if s.byName[rec.name] == rec.uuid {
			delete(s.byName, rec.name)
		}
	}
	listener := rec.uniqueListener
	conn := rec.uniqueConn
	q := rec.uniqueQueue
	rendezvous := rec.rendezvousConn
	s.mu.Unlock()

	if !ok {
		return
	}
	if rendezvous != nil {
		rendezvous.Close()
	}
	if listener != nil {
		listener.Close()
	}
	if conn != nil {
		conn.Close()
	}
	if q != nil {
		q.Detach()
	}
}
