package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:]) {
			return
		}
	}

	configPath := flag.String("config", "application.yml", "path to the YAML configuration file")
	addr := flag.String("addr", "", "client WebSocket listen address, overrides config's server.address:server.port")
	password := flag.String("password", "", "admission password, overrides config's media.server.password")
	flag.Parse()

	cfg := loadConfig(*configPath)
	if *addr != "" {
		host, port, err := splitHostPort(*addr)
		if err != nil {
			log.Fatalf("[config] -addr %q: %v", *addr, err)
		}
		cfg.Server.Address, cfg.Server.Port = host, port
	}
	if *password != "" {
		cfg.Media.Server.Password = *password
	}

	srv := NewServer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go RunMetrics(ctx, srv)

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[server] %v", err)
	}
}
