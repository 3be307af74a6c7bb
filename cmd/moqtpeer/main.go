// Command moqtpeer runs a MoQT publisher or subscriber over raw QUIC or
// WebTransport.
//
//	moqtpeer serve -addr 127.0.0.1:4443
//	moqtpeer subscribe -addr 127.0.0.1:4443 -cert-hash <hex>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "moqtpeer: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: moqtpeer serve|subscribe [flags]")
	}
	mode, args := args[0], args[1:]

	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	overrides := bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := overrides.load()
	if err != nil {
		return err
	}

	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "serve":
		return serve(ctx, cfg, logger)
	case "subscribe":
		return subscribe(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}
