// Package udpchat implements the client core of a reliable UDP chat
// system.
//
// The protocol layers at-least-once delivery on top of plain UDP:
// every tracked packet is retransmitted until acknowledged or its retry
// budget runs out. A rendezvous server (see the server package) keeps the
// peer registry and routes broadcast and direct messages between clients.
//
// # Getting Started
//
// Create a client with options and set up callbacks for events:
//
//	options := udpchat.NewOptions()
//
//	client := udpchat.NewClient(options)
//
//	client.OnConnected(func() {
//	    fmt.Println("connected")
//	})
//
//	client.OnPublicMessage(func(sender, text string) {
//	    fmt.Printf("<%s> %s\n", sender, text)
//	})
//
//	client.OnUserList(func(users map[string]string) {
//	    fmt.Printf("online: %v\n", users)
//	})
//
//	if err := client.Connect("alice", "127.0.0.1:5000"); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	client.SendPublic("hello everyone")
//	client.SendPrivate("bob", "hello bob")
//
// # Core Types
//
// The package defines several core types:
//
//   - [Client]: Command interface and event source for one chat identity
//   - [Options]: Configuration options for creating a new Client
//
// # Event Callbacks
//
// All events are delivered asynchronously through registered callbacks:
//
//	client.OnConnected(func() { ... })
//	client.OnDisconnected(func() { ... })
//	client.OnPublicMessage(func(sender, text string) { ... })
//	client.OnPrivateMessage(func(sender, text string) { ... })
//	client.OnUserList(func(users map[string]string) { ... })
//	client.OnSendFailed(func(context string) { ... })
//
// The core never renders or parses user-facing text; presentation layers
// consume these structured events and drive the command methods.
//
// # Thread Safety
//
// The Client struct is safe for concurrent use. Callbacks may be invoked
// from internal goroutines; they must not block for long.
//
// # Integration Architecture
//
// This package orchestrates:
//
//   - [transport]: packet codec, UDP socket handling, and the
//     acknowledgement/retransmission layer
//   - [peer]: the server-side peer registry (used by the server package)
//   - [server]: the rendezvous server consuming the same transport
package udpchat
