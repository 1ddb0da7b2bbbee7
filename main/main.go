package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jmurren/spintally/internal/config"
	"github.com/jmurren/spintally/internal/secret"
)

func usage() {
	fmt.Fprintf(os.Stderr, `spintally — listening history consolidation

Usage:
  spintally auth        [-listen :8888]      one-time Spotify authorization
  spintally fetch       [-pages N]           pull recent plays into the history
  spintally import      [-dir PATH]          fold an account data export into the history
  spintally consolidate [-kind song|album|artist] [-top N]
  spintally history     [-kind song|album|artist]
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "auth":
		err = cmdAuth(ctx, os.Args[2:])
	case "fetch":
		err = cmdFetch(ctx, cfg, os.Args[2:])
	case "import":
		err = cmdImport(ctx, cfg, os.Args[2:])
	case "consolidate":
		err = cmdConsolidate(ctx, cfg, os.Args[2:])
	case "history":
		err = cmdHistory(cfg, os.Args[2:])
	default:
		usage()
	}

	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func loadCredentials() error {
	if err := secret.LoadSecrets(); err != nil {
		return fmt.Errorf("spotify credentials: %w", err)
	}
	return nil
}
