// ipcd is the standalone daemon binary for the messaging fabric: it starts
// a Server on one domain and blocks until signaled. Application commands
// are registered by library consumers embedding internal/server directly;
// ipcd itself is a bare relay useful for manual testing and for domains
// whose handlers all live client-side (pure relay/broadcast topologies).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ianremillard/ipcfabric/internal/config"
	"github.com/ianremillard/ipcfabric/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	domain := flag.String("domain", "", "rendezvous domain (overrides config)")
	socketDir := flag.String("socket-dir", "", "socket directory (overrides config)")
	verbose := flag.Bool("verbose", false, "enable per-frame diagnostic logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipcd: %v\n", err)
		os.Exit(1)
	}
	if *domain != "" {
		cfg.Domain = *domain
	}
	if *socketDir != "" {
		cfg.SocketDir = *socketDir
	}
	if *verbose {
		cfg.Verbose = true
	}

	if len(cfg.Handlers) > 0 {
		log.Printf("ipcd: expecting external registration of handlers: %v", cfg.Handlers)
	}

	s := server.New(
		server.WithDomain(cfg.Domain),
		server.WithSocketDir(cfg.SocketDir),
		server.WithVerbose(cfg.Verbose),
	)

	if err := s.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "ipcd: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("ipcd: shutting down")
	if err := s.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "ipcd: stop: %v\n", err)
		os.Exit(1)
	}
}
