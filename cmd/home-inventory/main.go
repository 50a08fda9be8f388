package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/home-inventory/internal/apperrors"
	"github.com/zombor/home-inventory/internal/logger"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout)
	root := a.command()

	err := root.Parse(os.Args[1:],
		ff.WithEnvVarPrefix("HOME_INVENTORY"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	switch {
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: *a.logLevel, Format: *a.logFormat}, os.Stderr)
	defer a.close()

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			os.Exit(1)
		}
		slog.Error("Command failed", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if action := apperrors.ActionFor(err); action != apperrors.ActionNone {
			fmt.Fprintf(os.Stderr, "next action: %s\n", action)
		}
		a.close()
		os.Exit(1)
	}
}
