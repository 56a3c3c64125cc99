// Command node runs a single Raft cluster consensus runtime node:
// state machine, replication coordinator, message bus overlay, and RPC
// dispatcher, served over the HTTP transport.
//
// Grounded on the teacher's cmd/server/main.go (flag parsing, peer-list
// wiring, signal-driven shutdown) restructured into cuemby-warren's
// cobra command shape (cmd/warren/main.go): a root command with
// persistent logging flags and a single "run" entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vzdtic/raftcore/pkg/bus"
	"github.com/vzdtic/raftcore/pkg/config"
	"github.com/vzdtic/raftcore/pkg/dedup"
	"github.com/vzdtic/raftcore/pkg/id"
	"github.com/vzdtic/raftcore/pkg/logstore"
	"github.com/vzdtic/raftcore/pkg/raft"
	"github.com/vzdtic/raftcore/pkg/registry"
	"github.com/vzdtic/raftcore/pkg/rpcdispatch"
	"github.com/vzdtic/raftcore/pkg/transport"
)

var (
	configPath string
	httpAddr   string
	peersFlag  string
	logLevel   string
	logJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "node",
	Short:   "Raft cluster consensus node",
	Version: "dev",
	RunE:    runNode,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit structured JSON logs instead of console output")

	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML node configuration file")
	rootCmd.Flags().StringVar(&httpAddr, "http", ":7000", "HTTP listen address for the RPC/bus transport")
	rootCmd.Flags().StringVar(&peersFlag, "peers", "", "comma-separated id=address peer list, e.g. a=10.0.0.1:7000,b=10.0.0.2:7000")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if logJSON {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(level).With().Timestamp().Logger()
}

func parsePeers(s string) (map[string]string, error) {
	peers := make(map[string]string)
	if s == "" {
		return peers, nil
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid peer entry %q, expected id=address", entry)
		}
		peers[parts[0]] = parts[1]
	}
	return peers, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	var file config.File
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		file = *loaded
	}
	if err := file.ValidateAllowedNetworks(); err != nil {
		return err
	}
	opts, err := file.ToRaftOptions()
	if err != nil {
		return err
	}

	peers, err := parsePeers(peersFlag)
	if err != nil {
		return err
	}
	for k, v := range file.Peers {
		peers[k] = v
	}

	reg := registry.New()
	for nodeIDStr, addr := range peers {
		peerID, err := id.Parse(nodeIDStr)
		if err != nil {
			return fmt.Errorf("invalid peer id %q: %w", nodeIDStr, err)
		}
		if peerID == opts.MemberID {
			continue
		}
		reg.AddMember(peerID, addr, true)
	}

	client := transport.NewClient(nil)
	node := raft.NewNode(opts, logstore.NewMemory(), logstore.NewMemorySnapshots(), reg, client, logger)

	capacity, maxAge := file.DedupRetention()
	detector := dedup.New(capacity, maxAge)

	messageBus := bus.New(opts.MemberID, node, reg, client, detector, logger)

	acl, err := rpcdispatch.NewACL(file.AllowedNetworks)
	if err != nil {
		return fmt.Errorf("invalid allowedNetworks: %w", err)
	}
	dispatcher := rpcdispatch.New(node, messageBus, reg, detector, acl, logger)
	dispatcher.SetRateLimiter(file.RateLimiter())

	listenAddr := httpAddr
	if file.HTTPAddr != "" {
		listenAddr = file.HTTPAddr
	}
	server := transport.NewServer(dispatcher, reg, logger)
	httpServer := &http.Server{Addr: listenAddr, Handler: server}

	logger.Info().Str("member_id", opts.MemberID.String()).Str("http", listenAddr).Msg("starting node")
	node.Start()
	defer node.Stop()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
