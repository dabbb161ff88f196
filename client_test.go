package udpchat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/udpchat/server"
	"github.com/opd-ai/udpchat/transport"
)

func fastReliable() transport.ReliableOptions {
	return transport.ReliableOptions{
		AckTimeout:    200 * time.Millisecond,
		MaxRetries:    3,
		SweepInterval: 20 * time.Millisecond,
	}
}

func startTestServer(t *testing.T) *server.Server {
	t.Helper()
	opts := server.NewOptions()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	opts.Reliable = fastReliable()
	opts.LivenessInterval = time.Hour
	opts.LivenessTimeout = time.Hour

	srv, err := server.New(opts)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return srv
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	opts := NewOptions()
	opts.Reliable = fastReliable()
	c := NewClient(opts)
	t.Cleanup(c.Disconnect)
	return c
}

// connect joins and waits for the connected event.
func connect(t *testing.T, c *Client, identity string, srv *server.Server) {
	t.Helper()
	connected := make(chan struct{})
	c.OnConnected(func() { close(connected) })

	require.NoError(t, c.Connect(identity, srv.Addr().String()))

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatalf("client %s never connected", identity)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	srv := startTestServer(t)
	c := newTestClient(t)

	disconnected := make(chan struct{})
	c.OnDisconnected(func() { close(disconnected) })

	connect(t, c, "alice", srv)
	assert.True(t, c.IsConnected())
	assert.Equal(t, 1, srv.Registry().Len())

	c.Disconnect()
	assert.False(t, c.IsConnected())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnected event never fired")
	}

	// The leave reaches the server and empties the registry.
	require.Eventually(t, func() bool {
		return srv.Registry().Len() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConnectTwiceFails(t *testing.T) {
	srv := startTestServer(t)
	c := newTestClient(t)

	connect(t, c, "alice", srv)
	assert.Error(t, c.Connect("alice", srv.Addr().String()))
}

func TestSendRequiresConnection(t *testing.T) {
	c := newTestClient(t)
	assert.Error(t, c.SendPublic("hello"))
	assert.Error(t, c.SendPrivate("bob", "hello"))
}

func TestConnectValidatesInput(t *testing.T) {
	c := newTestClient(t)
	assert.Error(t, c.Connect("", "127.0.0.1:5000"))
	assert.Error(t, c.Connect("alice", "not an address::"))
}

func TestJoinTimeoutReportsFailure(t *testing.T) {
	// An address nobody is listening on: bind a socket, note the port,
	// close it again.
	srv := startTestServer(t)
	deadAddr := srv.Addr().String()
	srv.Stop()

	c := newTestClient(t)
	failed := make(chan string, 1)
	c.OnSendFailed(func(context string) { failed <- context })

	require.NoError(t, c.Connect("alice", deadAddr))

	select {
	case context := <-failed:
		assert.Contains(t, context, "join")
	case <-time.After(5 * time.Second):
		t.Fatal("join against dead server never failed")
	}
	assert.False(t, c.IsConnected())
}

func TestPublicMessageDelivery(t *testing.T) {
	srv := startTestServer(t)
	alice := newTestClient(t)
	bob := newTestClient(t)

	type msg struct{ sender, text string }
	bobGot := make(chan msg, 16)
	aliceGot := make(chan msg, 16)
	bob.OnPublicMessage(func(sender, text string) { bobGot <- msg{sender, text} })
	alice.OnPublicMessage(func(sender, text string) { aliceGot <- msg{sender, text} })

	connect(t, alice, "alice", srv)
	connect(t, bob, "bob", srv)

	require.NoError(t, alice.SendPublic("hi"))

	select {
	case got := <-bobGot:
		assert.Equal(t, "alice", got.sender)
		assert.Equal(t, "hi", got.text)
	case <-time.After(3 * time.Second):
		t.Fatal("bob never received the broadcast")
	}

	// Alice must not get her own message back. She may still see server
	// notifications (bob joining), so filter on content.
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case got := <-aliceGot:
			assert.NotEqual(t, "hi", got.text, "sender received own broadcast")
		case <-deadline:
			return
		}
	}
}

func TestPrivateMessageDelivery(t *testing.T) {
	srv := startTestServer(t)
	alice := newTestClient(t)
	bob := newTestClient(t)

	type msg struct{ sender, text string }
	bobGot := make(chan msg, 16)
	bob.OnPrivateMessage(func(sender, text string) { bobGot <- msg{sender, text} })

	connect(t, alice, "alice", srv)
	connect(t, bob, "bob", srv)

	require.NoError(t, alice.SendPrivate("bob", "psst"))

	select {
	case got := <-bobGot:
		assert.Equal(t, "alice", got.sender)
		assert.Equal(t, "psst", got.text)
	case <-time.After(3 * time.Second):
		t.Fatal("bob never received the private message")
	}
}

func TestPrivateMessageToOfflineRecipient(t *testing.T) {
	srv := startTestServer(t)
	alice := newTestClient(t)

	replies := make(chan string, 16)
	alice.OnPublicMessage(func(sender, text string) {
		if sender == server.Identity {
			replies <- text
		}
	})

	connect(t, alice, "alice", srv)
	require.NoError(t, alice.SendPrivate("carol", "hello?"))

	select {
	case text := <-replies:
		assert.Contains(t, text, "'carol' is not online")
	case <-time.After(3 * time.Second):
		t.Fatal("no offline-recipient reply")
	}
	_, registered := srv.Registry().Addr("carol")
	assert.False(t, registered)
}

func TestUserListUpdates(t *testing.T) {
	srv := startTestServer(t)
	alice := newTestClient(t)
	bob := newTestClient(t)

	lists := make(chan map[string]string, 16)
	alice.OnUserList(func(users map[string]string) { lists <- users })

	connect(t, alice, "alice", srv)
	connect(t, bob, "bob", srv)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case users := <-lists:
			_, hasAlice := users["alice"]
			_, hasBob := users["bob"]
			if hasAlice && hasBob {
				return
			}
		case <-deadline:
			t.Fatal("user list with both identities never arrived")
		}
	}
}

func TestHeartbeatKeepsClientRegistered(t *testing.T) {
	opts := server.NewOptions()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	opts.Reliable = fastReliable()
	opts.LivenessInterval = 50 * time.Millisecond
	opts.LivenessTimeout = 300 * time.Millisecond

	srv, err := server.New(opts)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)

	clientOpts := NewOptions()
	clientOpts.Reliable = fastReliable()
	clientOpts.HeartbeatInterval = 50 * time.Millisecond
	c := NewClient(clientOpts)
	t.Cleanup(c.Disconnect)

	connect(t, c, "alice", srv)

	// Well past the liveness timeout, the heartbeats keep alice alive.
	time.Sleep(800 * time.Millisecond)
	_, registered := srv.Registry().Addr("alice")
	assert.True(t, registered)
}
