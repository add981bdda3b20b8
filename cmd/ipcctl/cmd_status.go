package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/ianremillard/ipcfabric/internal/client"
)

// cmdStatus renders a live, terminal-width-aware table of connected clients
// and registered command handlers, refreshing once a second until
// interrupted.
func cmdStatus(domain, socketDir string) {
	fd := int(os.Stdout.Fd())

	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	defer signal.Stop(winchCh)

	c := newClient(domain, socketDir, "ipcctl-status", false)
	first, err := c.Connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
	if err := <-first; err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: cannot reach domain %q: %v\n", domain, err)
		os.Exit(1)
	}
	defer c.Close()

	drawStatus(fd, c)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Print("\033[?25h")
			os.Exit(0)
		case <-winchCh:
			drawStatus(fd, c)
		case <-ticker.C:
			drawStatus(fd, c)
		}
	}
}

func drawStatus(fd int, c *client.Client) {
	width, _, err := term.GetSize(fd)
	if err != nil || width < 40 {
		width = 100
	}

	var buf strings.Builder
	buf.WriteString("\033[H\033[2J")

	buf.WriteString("ipcfabric status\n")
	buf.WriteString(strings.Repeat("─", width) + "\n")

	connState := "connected"
	if !c.IsConnected() {
		connState = "reconnecting"
	}
	fmt.Fprintf(&buf, "self: %-20s  state: %s\n\n", c.Name(), connState)

	result := <-c.Discover()

	fmt.Fprintf(&buf, "%-4s  %s\n", "#", "CLIENT")
	fmt.Fprintf(&buf, "%-4s  %s\n", "----", strings.Repeat("-", width-6))
	for i, name := range result.Clients {
		fmt.Fprintf(&buf, "%-4d  %s\n", i+1, name)
	}
	if len(result.Clients) == 0 {
		buf.WriteString("  (no clients connected)\n")
	}

	buf.WriteString("\ncommand handlers:\n")
	if len(result.CommandHandlers) == 0 {
		buf.WriteString("  (none registered)\n")
	} else {
		buf.WriteString("  " + strings.Join(result.CommandHandlers, ", ") + "\n")
	}

	fmt.Fprintf(&buf, "\n%s\n", time.Now().Format("15:04:05"))

	fmt.Print(buf.String())
}
