// Command discoveryd serves the discovery session API.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/roamly/discovery/internal/app/runtime"
	"github.com/roamly/discovery/internal/config"
)

func main() {
	var (
		envFile    = flag.String("env", ".env", "Optional .env file loaded before configuration")
		configFile = flag.String("config", "", "YAML configuration file (overrides "+config.ConfigFileEnv+")")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}
	if *configFile != "" {
		if err := os.Setenv(config.ConfigFileEnv, *configFile); err != nil {
			log.Fatalf("set %s: %v", config.ConfigFileEnv, err)
		}
	}

	app, err := runtime.NewApplication()
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(ctx)
	if runErr != nil {
		log.Printf("server error: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
