package main

import (
	"context"
	"flag"
	"os"

	"github.com/ariefcatur/go-boutique-orders/internal/config"
	"github.com/ariefcatur/go-boutique-orders/internal/logx"
	"github.com/ariefcatur/go-boutique-orders/internal/postgres"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// usage: migrate [up|down|status|version|redo|reset|up-to N|down-to N]
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logx.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-migrate", cfg.Env)
	defer func() { _ = log.Sync() }()

	flag.Parse()
	command := "up"
	var args []string
	if flag.NArg() > 0 {
		command, args = flag.Arg(0), flag.Args()[1:]
	}

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	db := postgres.OpenDB(pool)
	defer db.Close()
	if err := postgres.RunMigrations(ctx, db, command, args...); err != nil {
		log.Error("migration failed", zap.String("command", command), zap.Error(err))
		pool.Close()
		os.Exit(1)
	}
	log.Info("migration done", zap.String("command", command))
}
