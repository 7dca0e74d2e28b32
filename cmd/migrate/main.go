package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/splax/lbinsight/internal/app/migrate"
	"github.com/splax/lbinsight/internal/repository/postgres"
	"github.com/splax/lbinsight/pkg/config"
	"github.com/splax/lbinsight/pkg/logger"
)

func main() {
	command := pflag.String("command", "up", "migrate command (up|status|down)")
	configPath := pflag.String("config", os.Getenv("LBINSIGHT_CONFIG"), "optional YAML config file")
	timeout := pflag.Duration("timeout", time.Minute, "command timeout")
	target := pflag.Int64("target", 0, "target version for down command (optional)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.ConnectTimeout)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	switch *command {
	case "up":
		err = runner.Ensure(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", *command)
}
