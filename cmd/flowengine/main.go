//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Command flowengine runs the questionnaire traversal service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/flowbuilder/flowengine/config"
	"github.com/flowbuilder/flowengine/flow"
	"github.com/flowbuilder/flowengine/graphstore/neo4j"
	"github.com/flowbuilder/flowengine/log"
	"github.com/flowbuilder/flowengine/sandbox"
	"github.com/flowbuilder/flowengine/server"
	"github.com/flowbuilder/flowengine/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := neo4j.New(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password,
		neo4j.WithDatabase(cfg.Neo4j.Database))
	cancel()
	if err != nil {
		log.Fatalf("connect to neo4j at %s: %v", cfg.Neo4j.URI, err)
	}
	defer store.Close(context.Background())

	sbx, err := sandbox.New()
	if err != nil {
		log.Fatalf("build script sandbox: %v", err)
	}

	exporter, err := otelprom.New()
	if err != nil {
		log.Fatalf("build prometheus exporter: %v", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	if err := telemetry.InitMeterProvider(mp); err != nil {
		log.Fatalf("init metrics: %v", err)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Warnf("shutdown meter provider: %v", err)
		}
	}()

	engine := flow.New(store, sbx,
		flow.WithVariableTimeout(cfg.VariableTimeout()),
		flow.WithEvalTimeout(cfg.EvalTimeout()))

	srv := server.New(engine, server.WithMetricsHandler(promhttp.Handler()))
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("flowengine listening on %s", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown: %v", err)
	}
}
