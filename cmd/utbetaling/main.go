package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/utbetaling/internal/arkiv"
	"github.com/zombor/utbetaling/internal/avstemming"
	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/mq"
	"github.com/zombor/utbetaling/internal/oppdrag"
	"github.com/zombor/utbetaling/internal/server"
	"github.com/zombor/utbetaling/internal/utbetaling"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// publisher is what both services need from the message queue
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("utbetaling")
	var (
		port              = fs.IntLong("port", 8080, "HTTP server port")
		dbPath            = fs.StringLong("db", "utbetaling.db", "Ledger database file path")
		runsDBPath        = fs.StringLong("runs-db", "avstemming.sqlite", "Reconciliation run log (sqlite) path")
		archivePath       = fs.StringLong("archive", "./arkiv", "Directory for archived payloads")
		natsURL           = fs.StringLong("nats-url", "", "NATS server URL (empty logs messages instead of sending them)")
		natsName          = fs.StringLong("nats-name", "utbetaling", "NATS connection name")
		oppdragSubject    = fs.StringLong("oppdrag-subject", "oppdrag.request", "Subject payment instructions are published on")
		kvitteringSubject = fs.StringLong("kvittering-subject", "oppdrag.kvittering", "Subject receipts arrive on")
		avstemmingSubject = fs.StringLong("avstemming-subject", "avstemming", "Subject reconciliation messages are published on")
		fagomrade         = fs.StringLong("fagomrade", "SUUFORE", "kodeFagomraade and kodeKlassifik")
		komponent         = fs.StringLong("komponent", "SU", "Sending component")
		enhet             = fs.StringLong("enhet", "8020", "Responsible unit")
		saksbehandler     = fs.StringLong("saksbehandler", "SU", "saksbehId on the oppdrag level")
		authUser          = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel          = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat         = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("UTBETALING"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Initialize ledger
	slog.Info("Initializing ledger...", "path", *dbPath)
	store, err := ledger.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize reconciliation run log
	slog.Info("Initializing run log...", "path", *runsDBPath)
	runsDB, err := avstemming.InitDB(*runsDBPath)
	if err != nil {
		slog.Error("Failed to initialize run log", "error", err)
		os.Exit(1)
	}
	defer runsDB.Close()

	// Initialize archive
	slog.Info("Initializing archive...", "path", *archivePath)
	archive, err := arkiv.NewLocalStorage(*archivePath)
	if err != nil {
		slog.Error("Failed to initialize archive", "error", err)
		os.Exit(1)
	}

	// Initialize message queue
	var (
		pub    publisher = mq.LogPublisher{}
		client *mq.Client
	)
	if *natsURL != "" {
		slog.Info("Connecting to NATS...", "url", *natsURL)
		client, err = mq.Connect(mq.Config{
			URL:            *natsURL,
			Name:           *natsName,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		pub = client
	} else {
		slog.Warn("No NATS URL configured, messages are logged and not sent")
	}

	settings := oppdrag.Settings{
		Fagomrade:     *fagomrade,
		Komponent:     *komponent,
		Enhet:         *enhet,
		Saksbehandler: *saksbehandler,
	}

	// Initialize services
	payments := utbetaling.NewService(store, pub, archive, *oppdragSubject, settings)
	runs := avstemming.NewService(store, avstemming.NewSQLiteRunRepository(runsDB), pub, archive, *avstemmingSubject, settings)

	if client != nil {
		if err := client.Subscribe(*kvitteringSubject, payments.ReceiptHandler()); err != nil {
			slog.Error("Failed to subscribe to receipts", "subject", *kvitteringSubject, "error", err)
			os.Exit(1)
		}
		slog.Info("Listening for receipts", "subject", *kvitteringSubject)
	}

	// Initialize server
	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           server.NewServer(payments, runs, basicAuth).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting server", "address", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("invalid log format %q, valid: text or json", format)
	}
	return nil
}
