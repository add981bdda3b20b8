// ipcctl is the CLI client for the messaging fabric.
//
// Usage:
//
//	ipcctl send <command> [json-data]         – send command/data to the server
//	ipcctl emit <name> <command> [json-data]  – ask the server to relay to a client
//	ipcctl broadcast <command> [json-data]    – ask the server to relay to every client
//	ipcctl discover                           – list connected clients and handlers
//	ipcctl deliver <command> [json-data]      – send and wait for a reply
//	ipcctl deliver-to <name> <command> [json-data] – relay and wait for a reply
//	ipcctl repl                               – interactive session
//	ipcctl status                             – live dashboard (refreshes every second)
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ianremillard/ipcfabric/internal/client"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	domain := flag.String("domain", "", "rendezvous domain")
	socketDir := flag.String("socket-dir", "", "socket directory")
	name := flag.String("name", "", "client name")
	verbose := flag.Bool("verbose", false, "enable per-frame diagnostic logging")
	subcommandArgs, rest := splitGlobalFlags(os.Args[2:])
	flag.CommandLine.Parse(subcommandArgs)

	switch os.Args[1] {
	case "send":
		cmdSend(*domain, *socketDir, *name, *verbose, rest)
	case "emit":
		cmdEmit(*domain, *socketDir, *name, *verbose, rest)
	case "broadcast":
		cmdBroadcast(*domain, *socketDir, *name, *verbose, rest)
	case "discover":
		cmdDiscover(*domain, *socketDir, *name, *verbose, rest)
	case "deliver":
		cmdDeliver(*domain, *socketDir, *name, *verbose, rest)
	case "deliver-to":
		cmdDeliverTo(*domain, *socketDir, *name, *verbose, rest)
	case "repl":
		cmdRepl(*domain, *socketDir, *name, *verbose)
	case "status":
		cmdStatus(*domain, *socketDir)
	default:
		fmt.Fprintf(os.Stderr, "ipcctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `ipcctl – drive the messaging fabric from the command line

  send <command> [json-data]              send command/data to the server
  emit <name> <command> [json-data]       ask the server to relay to client <name>
  broadcast <command> [json-data]         ask the server to relay to every client
  discover                                list connected clients and command handlers
  deliver <command> [json-data]           send and block for the server's reply
  deliver-to <name> <command> [json-data] relay and block for <name>'s reply
  repl                                    interactive session (send/emit/broadcast/discover/deliver)
  status                                  live dashboard, refreshes every second

Flags (apply to every subcommand; status ignores --name and --verbose):
  --domain, --socket-dir, --name, --verbose`)
}

// splitGlobalFlags separates --domain/--socket-dir/--name/--verbose flags
// (which may appear in any order, before or between the positional
// arguments) from the subcommand's own positional arguments, since
// flag.Parse stops at the first non-flag token.
func splitGlobalFlags(args []string) (flags []string, rest []string) {
	i := 0
	for i < len(args) {
		a := args[i]
		switch {
		case a == "--domain" || a == "--socket-dir" || a == "--name":
			flags = append(flags, a)
			if i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
		case strings.HasPrefix(a, "--domain=") || strings.HasPrefix(a, "--socket-dir=") || strings.HasPrefix(a, "--name="):
			flags = append(flags, a)
		case a == "--verbose":
			flags = append(flags, a)
		default:
			rest = append(rest, a)
		}
		i++
	}
	return flags, rest
}

func newClient(domain, socketDir, name string, verbose bool) *client.Client {
	var opts []client.Option
	if domain != "" {
		opts = append(opts, client.WithDomain(domain))
	}
	if socketDir != "" {
		opts = append(opts, client.WithSocketDir(socketDir))
	}
	if name != "" {
		opts = append(opts, client.WithName(name))
	}
	if verbose {
		opts = append(opts, client.WithVerbose(true))
	}
	return client.New(opts...)
}

func mustConnect(c *client.Client) {
	first, err := c.Connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
	if err := <-first; err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
}

// parseData decodes a trailing JSON argument, if present, else returns nil.
func parseData(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		// Not valid JSON — treat the raw argument as a bare string payload.
		return raw
	}
	return v
}

func cmdSend(domain, socketDir, name string, verbose bool, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ipcctl send <command> [json-data]")
		os.Exit(1)
	}
	var data any
	if len(args) > 1 {
		data = parseData(strings.Join(args[1:], " "))
	}

	c := newClient(domain, socketDir, name, verbose)
	mustConnect(c)
	defer c.Close()

	if err := <-c.Send(args[0], data); err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
}

func cmdEmit(domain, socketDir, name string, verbose bool, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ipcctl emit <name> <command> [json-data]")
		os.Exit(1)
	}
	var data any
	if len(args) > 2 {
		data = parseData(strings.Join(args[2:], " "))
	}

	c := newClient(domain, socketDir, name, verbose)
	mustConnect(c)
	defer c.Close()

	if err := <-c.Emit(args[0], args[1], data); err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
}

func cmdBroadcast(domain, socketDir, name string, verbose bool, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ipcctl broadcast <command> [json-data]")
		os.Exit(1)
	}
	var data any
	if len(args) > 1 {
		data = parseData(strings.Join(args[1:], " "))
	}

	c := newClient(domain, socketDir, name, verbose)
	mustConnect(c)
	defer c.Close()

	if err := <-c.Broadcast(args[0], data); err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
}

func cmdDiscover(domain, socketDir, name string, verbose bool, args []string) {
	c := newClient(domain, socketDir, name, verbose)
	mustConnect(c)
	defer c.Close()

	result := <-c.Discover()
	fmt.Printf("clients:          %s\n", strings.Join(result.Clients, ", "))
	fmt.Printf("command handlers: %s\n", strings.Join(result.CommandHandlers, ", "))
}

func cmdDeliver(domain, socketDir, name string, verbose bool, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ipcctl deliver <command> [json-data]")
		os.Exit(1)
	}
	var data any
	if len(args) > 1 {
		data = parseData(strings.Join(args[1:], " "))
	}

	c := newClient(domain, socketDir, name, verbose)
	mustConnect(c)
	defer c.Close()

	result := <-c.Deliver(args[0], data)
	printResult(result)
}

func cmdDeliverTo(domain, socketDir, name string, verbose bool, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ipcctl deliver-to <name> <command> [json-data]")
		os.Exit(1)
	}
	var data any
	if len(args) > 2 {
		data = parseData(strings.Join(args[2:], " "))
	}

	c := newClient(domain, socketDir, name, verbose)
	mustConnect(c)
	defer c.Close()

	result := <-c.DeliverTo(args[0], args[1], data)
	printResult(result)
}

func printResult(result any) {
	encoded, err := json.Marshal(result)
	if err != nil {
		fmt.Printf("%v\n", result)
		return
	}
	fmt.Println(string(encoded))
}

// cmdRepl runs a minimal line-oriented session: each line is "<verb> ...",
// verb one of send/emit/broadcast/discover/deliver/deliver-to, parsed with
// the same conventions as the one-shot subcommands. Interactive framing
// (the banner and "> " prompt) is suppressed when stdin isn't a terminal so
// scripted/piped input isn't cluttered with it.
func cmdRepl(domain, socketDir, name string, verbose bool) {
	c := newClient(domain, socketDir, name, verbose)
	mustConnect(c)
	defer c.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("ipcctl repl — connected as %s (Ctrl-D to exit)\n", c.Name())
	}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Println()
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		verb := fields[0]
		rest := fields[1:]

		switch verb {
		case "send":
			if len(rest) < 1 {
				fmt.Println("usage: send <command> [json-data]")
				continue
			}
			var data any
			if len(rest) > 1 {
				data = parseData(strings.Join(rest[1:], " "))
			}
			if err := <-c.Send(rest[0], data); err != nil {
				fmt.Println(err)
			}
		case "emit":
			if len(rest) < 2 {
				fmt.Println("usage: emit <name> <command> [json-data]")
				continue
			}
			var data any
			if len(rest) > 2 {
				data = parseData(strings.Join(rest[2:], " "))
			}
			if err := <-c.Emit(rest[0], rest[1], data); err != nil {
				fmt.Println(err)
			}
		case "broadcast":
			if len(rest) < 1 {
				fmt.Println("usage: broadcast <command> [json-data]")
				continue
			}
			var data any
			if len(rest) > 1 {
				data = parseData(strings.Join(rest[1:], " "))
			}
			if err := <-c.Broadcast(rest[0], data); err != nil {
				fmt.Println(err)
			}
		case "discover":
			result := <-c.Discover()
			fmt.Printf("clients:          %s\n", strings.Join(result.Clients, ", "))
			fmt.Printf("command handlers: %s\n", strings.Join(result.CommandHandlers, ", "))
		case "deliver":
			if len(rest) < 1 {
				fmt.Println("usage: deliver <command> [json-data]")
				continue
			}
			var data any
			if len(rest) > 1 {
				data = parseData(strings.Join(rest[1:], " "))
			}
			printResult(<-c.Deliver(rest[0], data))
		case "deliver-to":
			if len(rest) < 2 {
				fmt.Println("usage: deliver-to <name> <command> [json-data]")
				continue
			}
			var data any
			if len(rest) > 2 {
				data = parseData(strings.Join(rest[2:], " "))
			}
			printResult(<-c.DeliverTo(rest[0], rest[1], data))
		default:
			fmt.Printf("unknown verb %q\n", verb)
		}
	}
}
