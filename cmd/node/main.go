// Command node runs one Chord peer: it listens for stream and
// datagram traffic, optionally joins an existing ring, and serves the
// blob Put/Get protocol until terminated.
//
// Flags are parsed with github.com/spf13/cobra and shutdown is
// signal-driven, following the idiom docker-cli and kubernetes both
// use for long-running server commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chordkv/internal/dht"
	"chordkv/internal/server"
	"chordkv/internal/storage"
	"chordkv/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type nodeFlags struct {
	host             string
	port             int
	join             string
	dataDir          string
	logLevel         string
	stabilizeBase    time.Duration
	stabilizeMax     time.Duration
	heartbeatPeriod  time.Duration
	heartbeatTimeout time.Duration
	debugHTTP        string
}

func newRootCmd() *cobra.Command {
	f := &nodeFlags{}
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a Chord ring peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.host, "host", "127.0.0.1", "address to listen on")
	flags.IntVar(&f.port, "port", 0, "port to listen on (0 picks one at random)")
	flags.StringVar(&f.join, "join", "", "address of an existing ring member to join (empty starts a new ring)")
	flags.StringVar(&f.dataDir, "data-dir", "", "directory for the persistent blob index (defaults to server/<port>)")
	flags.StringVar(&f.logLevel, "log-level", "info", "logrus level: trace, debug, info, warn, error")
	flags.DurationVar(&f.stabilizeBase, "stabilize-base", 5*time.Second, "initial stabilization tick interval")
	flags.DurationVar(&f.stabilizeMax, "stabilize-max", 320*time.Second, "stabilization backoff ceiling")
	flags.DurationVar(&f.heartbeatPeriod, "heartbeat-period", 5*time.Second, "heartbeat send period")
	flags.DurationVar(&f.heartbeatTimeout, "heartbeat-timeout", 30*time.Second, "successor liveness timeout before fail-over")
	flags.StringVar(&f.debugHTTP, "debug-http", "", "address for the optional debug/inspection HTTP surface (empty disables it)")

	return cmd
}

func runNode(f *nodeFlags) error {
	log, err := newLogger(f.logLevel)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", f.host, f.port)

	ln, err := transport.Listen(addr, log)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()
	selfAddr := ln.Addr()

	dataDir := f.dataDir
	if dataDir == "" {
		dataDir = fmt.Sprintf("server/%d", f.port)
	}
	store, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open storage at %s: %w", dataDir, err)
	}
	defer store.Close()

	registry := transport.NewRegistry(5*time.Second, log)
	defer registry.CloseAll()

	cfg := dht.DefaultConfig()
	cfg.StabilizeBase = f.stabilizeBase
	cfg.StabilizeMax = f.stabilizeMax
	cfg.HeartbeatPeriod = f.heartbeatPeriod
	cfg.HeartbeatTimeout = f.heartbeatTimeout

	node := dht.New(selfAddr, registry, store, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ln.Serve(ctx)
	go node.Run(ctx, ln.Inbox)

	if f.join != "" {
		joinCtx, joinCancel := context.WithTimeout(ctx, 30*time.Second)
		err := node.Bootstrap(joinCtx, f.join)
		joinCancel()
		if err != nil {
			cancel()
			return fmt.Errorf("join %s: %w", f.join, err)
		}
		log.WithField("via", f.join).Info("joined ring")
	} else {
		log.Info("starting a new ring")
	}

	var dbg *server.Server
	if f.debugHTTP != "" {
		dbg = server.New(f.debugHTTP, node, log)
		go func() {
			if err := dbg.Start(); err != nil {
				log.WithError(err).Error("debug http server stopped")
			}
		}()
	}

	log.WithField("addr", selfAddr).Info("node running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()

	if dbg != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := dbg.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("debug http shutdown error")
		}
	}

	return nil
}

// newLogger builds the root logrus entry: text when stdout is a
// terminal (a developer watching the process directly), JSON
// otherwise (piped into a log collector, redirected to a file, or
// run under a process supervisor).
func newLogger(level string) (*logrus.Entry, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	l := logrus.New()
	l.SetLevel(lvl)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(l), nil
}
