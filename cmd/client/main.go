package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophchat/internal/buildinfo"
	"github.com/dmitrijs2005/gophchat/internal/client/cli"
	"github.com/dmitrijs2005/gophchat/internal/client/config"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"golang.org/x/term"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg := config.LoadConfig()

	if cfg.AccessToken == "" {
		var (
			token string
			err   error
		)
		if term.IsTerminal(int(os.Stdin.Fd())) {
			token, err = cli.GetToken(os.Stdout)
		} else {
			token, err = cli.GetSimpleText(bufio.NewReader(os.Stdin), "Access token:", os.Stdout)
		}
		if err != nil {
			log.Fatalf("read token: %v", err)
		}
		cfg.AccessToken = token
	}

	logger, err := logging.New(os.Stderr, logging.Options{
		Backend: cfg.Log.Backend,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Rotation: logging.RotationOptions{
			FilePath:   cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		},
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
	if z, ok := logger.(*logging.ZapLogger); ok {
		defer func() { _ = z.Sync() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
