package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hongdown/hongdown-ls/internal/config"
	"github.com/hongdown/hongdown-ls/internal/logging"
	"github.com/hongdown/hongdown-ls/internal/server"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

func main() {
	var (
		stdin       bool
		logLevel    string
		showVersion bool
		watchConfig bool
	)

	flag.BoolVar(&stdin, "stdin", true, "Use stdin/stdout for communication")
	flag.StringVar(&logLevel, "log-level", "info", "Minimum level of log records written to stderr")
	flag.BoolVar(&watchConfig, "watch-config", true, "Watch config files and re-register the formatter when they change")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s\n", config.Name, config.Version)
		return
	}
	if !stdin {
		fmt.Fprintf(os.Stderr, "%s: only stdio transport is supported\n", config.Name)
		os.Exit(2)
	}

	stream := jsonrpc2.NewStream(struct {
		io.Reader
		io.Writer
		io.Closer
	}{
		os.Stdin,  // Read from standard input.
		os.Stdout, // Write to standard output.
		os.Stdin,  // Close standard input (though typically stdin isn't closed by the server).
	})

	ctx := context.Background()
	conn := jsonrpc2.NewConn(stream)

	logger := logging.New(logging.ParseLevel(logLevel), logging.NewClientChannel(conn))
	defer func() { _ = logger.Sync() }()

	mainLogger := logger.Named(logging.Main)
	mainLogger.Info("LSP server connection established", zap.String("version", config.Version))

	lspServer := server.New(conn, logger, server.Options{
		UserConfigPath: config.UserConfigPath(),
		WatchConfig:    watchConfig,
	})
	conn.Go(ctx, lspServer.Handle)

	// Wait for the connection to be done (e.g., closed by the client or an error occurs).
	mainLogger.Debug("LSP server is running, waiting for requests")
	<-conn.Done()

	// Check for any errors that occurred during the connection's lifetime.
	if err := conn.Err(); err != nil && !errors.Is(err, io.EOF) {
		mainLogger.Fatal("LSP server stopped with error", zap.Error(err))
	}

	mainLogger.Info("LSP server shutdown complete")
}
