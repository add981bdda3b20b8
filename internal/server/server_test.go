package server_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/ipcfabric/internal/client"
	"github.com/ianremillard/ipcfabric/internal/handler"
	"github.com/ianremillard/ipcfabric/internal/server"
)

func newTestServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	dir := t.TempDir()
	s := server.New(server.WithDomain("test"), server.WithSocketDir(dir))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s, dir
}

func newTestClient(t *testing.T, dir, name string) *client.Client {
	t.Helper()
	c := client.New(
		client.WithDomain("test"),
		client.WithSocketDir(dir),
		client.WithName(name),
		client.WithReconnectDelay(20*time.Millisecond),
	)
	t.Cleanup(c.Close)
	return c
}

func mustConnect(t *testing.T, c *client.Client) {
	t.Helper()
	first, err := c.Connect()
	require.NoError(t, err)
	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect timed out")
	}
}

// TestHandshakeAssignsChannelID exercises scenario S1: a client handshakes
// over the rendezvous socket, receives a unique channel id, and its unique
// socket comes up so IsConnected reports true.
func TestHandshakeAssignsChannelID(t *testing.T) {
	_, dir := newTestServer(t)
	c := newTestClient(t, dir, "alice")
	mustConnect(t, c)

	assert.True(t, c.IsConnected())
	assert.Equal(t, "alice", c.Name())
}

// TestNameCollisionRejected exercises scenario S2: a second client
// handshaking with an in-use name is rejected and never reaches Connected.
func TestNameCollisionRejected(t *testing.T) {
	_, dir := newTestServer(t)
	c1 := newTestClient(t, dir, "bob")
	mustConnect(t, c1)

	c2 := client.New(
		client.WithDomain("test"),
		client.WithSocketDir(dir),
		client.WithName("bob"),
	)
	defer c2.Close()

	first, err := c2.Connect()
	require.NoError(t, err)
	select {
	case err := <-first:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected handshake rejection, got none")
	}
	assert.False(t, c2.IsConnected())
}

// TestSendInvokesHandler exercises scenario S3: a command sent on the
// unique socket reaches its registered server-side handler.
func TestSendInvokesHandler(t *testing.T) {
	s, dir := newTestServer(t)
	received := make(chan any, 1)
	require.NoError(t, s.AddHandlers(map[string]handler.Func{
		"greet": func(ctx handler.Context) any {
			received <- ctx.Data
			return nil
		},
	}))

	c := newTestClient(t, dir, "carol")
	mustConnect(t, c)

	require.NoError(t, <-c.Send("greet", "hello"))

	select {
	case data := <-received:
		assert.Equal(t, "hello", data)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

// TestDeliverRoundTrip exercises scenario S4: Deliver sends directly to the
// server and receives the handler's return value back as a correlated
// delivery reply.
func TestDeliverRoundTrip(t *testing.T) {
	s, dir := newTestServer(t)
	require.NoError(t, s.AddHandlers(map[string]handler.Func{
		"double": func(ctx handler.Context) any {
			n, _ := ctx.Data.(float64)
			return n * 2
		},
	}))

	c := newTestClient(t, dir, "dave")
	mustConnect(t, c)

	select {
	case result := <-c.Deliver("double", float64(21)):
		assert.Equal(t, float64(42), result)
	case <-time.After(time.Second):
		t.Fatal("deliver never completed")
	}
}

// TestClientToClientRelayWithDelivery exercises scenario S5: client c1
// delivers to client c2 by name through the server; c2's own handler
// response round-trips back to c1 as a correlated delivery.
func TestClientToClientRelayWithDelivery(t *testing.T) {
	_, dir := newTestServer(t)

	c1 := newTestClient(t, dir, "erin")
	mustConnect(t, c1)

	c2 := newTestClient(t, dir, "frank")
	require.NoError(t, c2.AddHandlers(map[string]handler.Func{
		"square": func(ctx handler.Context) any {
			n, _ := ctx.Data.(float64)
			return n * n
		},
	}))
	mustConnect(t, c2)

	select {
	case result := <-c1.DeliverTo("frank", "square", float64(6)):
		assert.Equal(t, float64(36), result)
	case <-time.After(2 * time.Second):
		t.Fatal("relayed deliver never completed")
	}
}

// TestQueueThenStart exercises scenario S6: Send is called immediately
// after Connect is issued, before the handshake has completed — the
// underlying queue accepts the frame without blocking and it drains once
// the unique socket comes up.
func TestQueueThenStart(t *testing.T) {
	s, dir := newTestServer(t)
	received := make(chan any, 1)
	require.NoError(t, s.AddHandlers(map[string]handler.Func{
		"ping": func(ctx handler.Context) any {
			received <- ctx.Data
			return nil
		},
	}))

	c := newTestClient(t, dir, "grace")
	first, err := c.Connect()
	require.NoError(t, err)

	done := c.Send("ping", "queued-before-ready")
	require.NoError(t, <-first)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued send never completed")
	}
	select {
	case data := <-received:
		assert.Equal(t, "queued-before-ready", data)
	case <-time.After(time.Second):
		t.Fatal("handler never saw the queued send")
	}
}

// TestDiscoverListsClientsAndHandlers confirms discover() surfaces both
// connected peer names and registered server-side command handlers.
func TestDiscoverListsClientsAndHandlers(t *testing.T) {
	s, dir := newTestServer(t)
	require.NoError(t, s.AddHandlers(map[string]handler.Func{
		"ping": func(ctx handler.Context) any { return nil },
	}))

	c1 := newTestClient(t, dir, "henry")
	mustConnect(t, c1)
	c2 := newTestClient(t, dir, "iris")
	mustConnect(t, c2)

	result := <-c1.Discover()
	assert.ElementsMatch(t, []string{"henry", "iris"}, result.Clients)
	assert.Equal(t, []string{"ping"}, result.CommandHandlers)
}

// TestBroadcastReachesEveryoneButInitiator confirms a client-initiated
// broadcast is relayed to all other clients and never echoed back to the
// sender.
func TestBroadcastReachesEveryoneButInitiator(t *testing.T) {
	_, dir := newTestServer(t)

	echoCh := make(chan any, 1)
	c1 := newTestClient(t, dir, "jack")
	require.NoError(t, c1.AddHandlers(map[string]handler.Func{
		"announce": func(ctx handler.Context) any {
			echoCh <- ctx.Data
			return nil
		},
	}))
	mustConnect(t, c1)

	gotCh := make(chan any, 1)
	c2 := newTestClient(t, dir, "kate")
	require.NoError(t, c2.AddHandlers(map[string]handler.Func{
		"announce": func(ctx handler.Context) any {
			gotCh <- ctx.Data
			return nil
		},
	}))
	mustConnect(t, c2)

	require.NoError(t, <-c1.Broadcast("announce", "hello everyone"))

	select {
	case data := <-gotCh:
		assert.Equal(t, "hello everyone", data)
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached the other client")
	}
	select {
	case <-echoCh:
		t.Fatal("broadcast was echoed back to its initiator")
	case <-time.After(100 * time.Millisecond):
	}
}

// waitUntil polls cond until it returns true or timeout elapses, failing
// the test on timeout.
func waitUntil(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestReconnectPreservesQueuedFrames exercises a live client surviving a
// server restart: a frame sent while the client is offline (queued on the
// unique send queue, which never blocks) is delivered in order once the
// client's background reconnect loop re-establishes the session.
func TestReconnectPreservesQueuedFrames(t *testing.T) {
	dir := t.TempDir()
	pingHandler := func(received chan any) map[string]handler.Func {
		return map[string]handler.Func{
			"ping": func(ctx handler.Context) any {
				received <- ctx.Data
				return nil
			},
		}
	}

	received := make(chan any, 4)
	s1 := server.New(server.WithDomain("test"), server.WithSocketDir(dir))
	require.NoError(t, s1.AddHandlers(pingHandler(received)))
	require.NoError(t, s1.Start())

	c := client.New(
		client.WithDomain("test"),
		client.WithSocketDir(dir),
		client.WithName("liam"),
		client.WithReconnectDelay(20*time.Millisecond),
	)
	t.Cleanup(c.Close)
	mustConnect(t, c)

	require.NoError(t, <-c.Send("ping", "before-drop"))
	select {
	case data := <-received:
		assert.Equal(t, "before-drop", data)
	case <-time.After(time.Second):
		t.Fatal("handler never saw the pre-drop send")
	}

	// Stop the first server: this closes the client's unique socket from
	// the server side, which the client's read loop observes as an error
	// and reacts to by going offline and closing out its own sockets.
	require.NoError(t, s1.Stop())
	waitUntil(t, 2*time.Second, "client never went offline after server stop", func() bool {
		return !c.IsConnected()
	})

	// Enqueue while offline — Send must never block, and the frame waits
	// in the unique queue for the next successful attach.
	done := c.Send("ping", "queued-while-offline")

	// Bring a fresh server up on the same domain/socket dir, simulating a
	// restart. The client's background reconnect loop picks it up on its
	// own without any action from the test.
	s2 := server.New(server.WithDomain("test"), server.WithSocketDir(dir))
	require.NoError(t, s2.AddHandlers(pingHandler(received)))
	require.NoError(t, s2.Start())
	t.Cleanup(func() { s2.Stop() })

	waitUntil(t, 3*time.Second, "client never reconnected", func() bool {
		return c.IsConnected()
	})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued send from before reconnect never completed")
	}
	select {
	case data := <-received:
		assert.Equal(t, "queued-while-offline", data)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never saw the frame queued during the offline window")
	}
}

func TestRendezvousSocketPathShape(t *testing.T) {
	dir := t.TempDir()
	s := server.New(server.WithDomain("shape"), server.WithSocketDir(dir))
	require.NoError(t, s.Start())
	defer s.Stop()

	_, err := os.Stat(filepath.Join(dir, "IPC.io.shape"))
	assert.NoError(t, err)
}
