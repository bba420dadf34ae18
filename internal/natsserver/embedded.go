// Package natsserver runs the broker inside the recon process for single-node
// deployments.
package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/loqalabs/recon/internal/config"
)

const (
	serverName   = "recon"
	defaultStore = "./data/nats"
	readyTimeout = 5 * time.Second
	bytesPerMB   = 1 << 20
)

// EmbeddedServer is the in-process broker carrying session events.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start launches the broker with JetStream when cfg asks for an embedded
// server and returns nil otherwise. The credentials in cfg are the ones the
// bus client presents, so the embedded broker enforces them too. A port of -1
// picks a free port.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	opts, err := serverOptions(cfg)
	if err != nil {
		return nil, err
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within %s", readyTimeout)
	}

	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", opts.StoreDir),
		slog.Int64("max_store_bytes", opts.JetStreamMaxStore),
		slog.Bool("auth", opts.Username != "" || opts.Authorization != ""))

	return &EmbeddedServer{ns: ns, log: log}, nil
}

func serverOptions(cfg config.BusConfig) (*server.Options, error) {
	if cfg.Token != "" && (cfg.Username != "" || cfg.Password != "") {
		return nil, errors.New("embedded NATS server accepts either a token or a username, not both")
	}
	storeDir := cfg.StoreDir
	if storeDir == "" {
		storeDir = defaultStore
	}
	opts := &server.Options{
		ServerName:    serverName,
		Host:          "127.0.0.1",
		Port:          cfg.Port,
		JetStream:     true,
		StoreDir:      storeDir,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Authorization: cfg.Token,
		NoSigs:        true,
	}
	if cfg.MaxStoreMB > 0 {
		opts.JetStreamMaxStore = int64(cfg.MaxStoreMB) * bytesPerMB
	}
	return opts, nil
}

// ClientURL is the URL the bus client should dial.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the broker and waits for JetStream to flush.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
