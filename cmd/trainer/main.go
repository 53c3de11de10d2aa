// Command trainer runs the cable-resistance trainer's BLE control
// core: connection lifecycle, the real-time monitoring pipeline, the
// auto-start/auto-stop handle state machine, rep counting, and the
// safety supervisor.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trainer-core/internal/agent"
	"trainer-core/internal/config"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	a, err := agent.NewAgent(cfg)
	if err != nil {
		log.Fatalf("building agent: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		a.Shutdown()
	}()

	a.Run()
}
