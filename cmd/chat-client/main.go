// Package main is a minimal line-oriented chat client for exercising the
// protocol from a terminal.
//
// Messages typed on stdin are broadcast; "/msg <user> <text>" sends a
// direct message and "/quit" leaves. Anything received is printed.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpchat"
)

func main() {
	var (
		name       = flag.String("name", "", "Chat identity (required)")
		serverAddr = flag.String("server", "127.0.0.1:5000", "Server address")
		logLevel   = flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: chat-client -name <identity> [-server host:port]")
		os.Exit(2)
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logrus.SetLevel(level)

	client := udpchat.NewClient(udpchat.NewOptions())

	client.OnConnected(func() {
		fmt.Println("* connected")
	})
	client.OnDisconnected(func() {
		fmt.Println("* disconnected")
	})
	client.OnPublicMessage(func(sender, text string) {
		fmt.Printf("<%s> %s\n", sender, text)
	})
	client.OnPrivateMessage(func(sender, text string) {
		fmt.Printf("[private] <%s> %s\n", sender, text)
	})
	client.OnUserList(func(users map[string]string) {
		names := make([]string, 0, len(users))
		for identity := range users {
			names = append(names, identity)
		}
		sort.Strings(names)
		fmt.Printf("* online: %s\n", strings.Join(names, ", "))
	})
	client.OnSendFailed(func(context string) {
		fmt.Printf("* send failed: %s\n", context)
	})

	if err := client.Connect(*name, *serverAddr); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/msg "):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				fmt.Println("usage: /msg <user> <text>")
				continue
			}
			if err := client.SendPrivate(parts[1], parts[2]); err != nil {
				fmt.Printf("* %v\n", err)
			}
		default:
			if err := client.SendPublic(line); err != nil {
				fmt.Printf("* %v\n", err)
			}
		}
	}
}
