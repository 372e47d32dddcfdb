// ════════════════════════════════════════════════════════════════════════════════════════════════
// voltscope - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: voltscope
// Component: Main Entry Point & System Orchestration
//
// Description:
//   Wires the capture pipeline and its front door in phases.
//   Configuration → Pipeline Assembly → Memory Preparation → Real-Time Capture
//
// Architecture:
//   - Phase 0: Load configuration and install the logger
//   - Phase 1: Build ring, source, decimator, sampler, telemetry and HTTP server
//   - Phase 2: Collect startup garbage and lock memory before sampling
//   - Phase 3: Start the pinned sampler and telemetry, serve until a signal arrives
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	rtdebug "runtime/debug"
	"syscall"
	"time"

	"voltscope/config"
	"voltscope/control"
	"voltscope/debug"
	"voltscope/decimate"
	"voltscope/monitor"
	"voltscope/ring"
	"voltscope/sampler"
	"voltscope/server"
	"voltscope/source"
	"voltscope/stream"
	"voltscope/types"
)

// shutdownGrace bounds how long sessions get to send their close frames.
const shutdownGrace = 5 * time.Second

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAIN ORCHESTRATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func main() {
	configPath := flag.String("config", "", "YAML configuration file (built-in defaults when empty)")
	flag.Parse()

	// PHASE 0: Configuration and logging
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("CONFIG", err)
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		fatal("CONFIG", err)
	}
	debug.SetLogger(logger)
	debug.DropAttrs("INIT", "config", *configPath, "source", cfg.Sampling.Source, "capacity", cfg.Buffer.Capacity)

	// PHASE 1: Pipeline assembly
	buf := ring.New(cfg.Buffer.Capacity, types.Sample{})
	writer, _ := buf.TakeWriter()
	reader, _ := buf.TakeReader()

	src, srcCloser, err := source.Open(cfg.SourceOptions())
	if err != nil {
		fatal("SOURCE", err)
	}

	dec := decimate.New(cfg.DecimationParams(), writer)
	smp := sampler.New(src, dec, cfg.SamplerConfig())

	flags := control.New(cfg.HotWindow())
	counters := &stream.Counters{}

	mon := monitor.New(monitor.Sources{
		Ring:      buf,
		Decimator: dec,
		Sampler:   smp,
		Stream:    counters,
	}, cfg.TelemetryInterval(), uint64(cfg.Telemetry.HeapSoftLimitMB)<<20, openSinks(cfg)...)

	srv, err := server.New(server.Config{
		HTTPAddrs: cfg.HTTP.Addrs,
		WSAddrs:   cfg.WebSocket.Addrs,
		WSPath:    cfg.WebSocket.Path,
		Session:   cfg.SessionConfig(),
	}, reader, flags, counters, mon.Latest)
	if err != nil {
		fatal("HTTP", err)
	}
	if err := srv.Start(); err != nil {
		fatal("HTTP", err)
	}

	// PHASE 2: Memory preparation for a steady sampling cadence
	runtime.GC()
	rtdebug.FreeOSMemory()
	if err := lockMemory(); err != nil {
		debug.DropError("MLOCK", err)
	}

	// PHASE 3: Real-time capture
	samplerDone := smp.Start(flags.StopFlag())

	flags.ShutdownWG.Add(1)
	go func() {
		defer flags.ShutdownWG.Done()
		mon.Run(flags.Done())
	}()

	debug.DropMessage("READY", "sampling on core "+fmt.Sprint(cfg.Sampling.Core))

	waitForSignal()
	debug.DropMessage("SIGNAL", "Received interrupt, shutting down...")

	flags.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		debug.DropError("HTTP", err)
	}

	// Closing the source unblocks a sampler waiting on a serial read.
	if err := srcCloser.Close(); err != nil {
		debug.DropError("SOURCE", err)
	}
	<-samplerDone
	flags.ShutdownWG.Wait()

	final := mon.Collect()
	debug.DropAttrs("EXIT", "missed", final.Missed, "kept", final.Kept, "streamed", final.Streamed)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STARTUP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openSinks opens the configured telemetry sinks. A sink that cannot be
// opened is logged and skipped; telemetry is never fatal.
func openSinks(cfg *config.Config) []monitor.Sink {
	var sinks []monitor.Sink

	if path := cfg.Telemetry.SQLitePath; path != "" {
		if s, err := monitor.OpenSQLite(path); err != nil {
			debug.DropError("TELEMETRY", err)
		} else {
			sinks = append(sinks, s)
		}
	}

	if m := cfg.Telemetry.MQTT; m.Broker != "" {
		s, err := monitor.DialMQTT(monitor.MQTTOptions{
			Broker:   m.Broker,
			Topic:    m.Topic,
			ClientID: m.ClientID,
			QoS:      m.QoS,
		})
		if err != nil {
			debug.DropError("TELEMETRY", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYSTEM LIFECYCLE MANAGEMENT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)
}

func fatal(prefix string, err error) {
	debug.DropError(prefix, err)
	os.Exit(1)
}
