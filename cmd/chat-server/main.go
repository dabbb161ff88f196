// Package main runs the chat rendezvous server.
//
// The server binds one UDP socket, keeps the peer registry, and routes
// broadcast and direct messages between connected clients with
// acknowledgement tracking and retransmission.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpchat/server"
)

func main() {
	opts := server.NewOptions()

	var logLevel string
	flag.StringVar(&opts.Host, "host", opts.Host, "UDP listen host")
	flag.IntVar(&opts.Port, "port", opts.Port, "UDP listen port")
	flag.StringVar(&opts.AdminAddr, "admin", "", "HTTP admin API listen address (empty disables)")
	flag.DurationVar(&opts.Reliable.AckTimeout, "ack-timeout", opts.Reliable.AckTimeout, "Time to wait for an ACK before retransmitting")
	flag.IntVar(&opts.Reliable.MaxRetries, "max-retries", opts.Reliable.MaxRetries, "Retransmissions before a send is reported failed")
	flag.DurationVar(&opts.LivenessInterval, "liveness-interval", opts.LivenessInterval, "How often silent peers are swept")
	flag.DurationVar(&opts.LivenessTimeout, "liveness-timeout", opts.LivenessTimeout, "Silence threshold before a peer is evicted")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", logLevel, err)
		os.Exit(2)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	srv, err := server.New(opts)
	if err != nil {
		logrus.WithError(err).Fatal("Server startup failed")
	}

	fmt.Printf("Chat server listening on %s\n", srv.Addr())
	fmt.Println("Press Ctrl+C to stop the server")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	srv.Stop()

	stats := srv.Stats()
	fmt.Println("\nServer Statistics:")
	fmt.Printf("Total messages handled: %d\n", stats.TotalMessages)
	fmt.Printf("Acknowledged deliveries: %d\n", stats.Deliveries)
	fmt.Printf("Average delivery time: %s\n", stats.AverageDelivery.Round(time.Millisecond))
	fmt.Printf("Total retransmissions: %d\n", stats.Retransmissions)
	fmt.Printf("Delivery failures: %d\n", stats.Failures)
}
