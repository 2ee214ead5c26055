package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kafmirror/internal/engine"
	"kafmirror/internal/logging"
	"kafmirror/internal/transport"
	"kafmirror/source/kafka"

	_ "kafmirror/sink/kafka"
	_ "kafmirror/sink/stdout"
)

func main() {
	cfgPath := flag.String("config", "mirror.yml", "worker spec file")
	check := flag.String("healthcheck", "", "probe a running worker's health endpoint and exit")
	flag.Parse()

	logging.InitFromEnv()

	if *check != "" {
		os.Exit(runHealthcheck(*check))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kafka.Register("sarama", func() kafka.Adapter { return &kafka.SaramaDriver{} })

	e, err := engine.Bootstrap(ctx, engine.Config{SpecPath: *cfgPath})
	if err != nil {
		logging.L().Error("bootstrap", "err", err)
		os.Exit(1)
	}

	if err := e.Run(ctx); err != nil {
		// The pump died while not shutting down: a partially mirroring
		// worker must not linger, peers take over after the rebalance.
		logging.L().Error("worker failed", "err", err)
		os.Exit(1)
	}
}

func runHealthcheck(addr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ok, err := transport.Probe(ctx, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !ok {
		fmt.Println("NOT_SERVING")
		return 1
	}
	fmt.Println("SERVING")
	return 0
}
