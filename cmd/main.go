package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"Mail2Ledger/internal/appmanager"
	"Mail2Ledger/internal/config"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// Load .env for local dev
	_ = godotenv.Load()

	cfg, err := config.Load(envOr("MAIL2LEDGER_CONFIG", "mail2ledger.yaml"))
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	appmanager.SetAppConfig(cfg)

	db, pool, err := appmanager.OpenDatabases(context.Background())
	if err != nil {
		log.Fatal("failed to connect to DB:", err)
	}
	defer db.Close()
	defer pool.Close()
	appmanager.SetDB(db)
	appmanager.SetPgxPool(pool)

	manager := appmanager.NewAppManager()

	// Load service configs from YAML
	servicesCfg, err := appmanager.LoadServiceSequence(envOr("MAIL2LEDGER_SERVICES", "services.yaml"))
	if err != nil {
		log.Fatal("failed to load service sequence:", err)
	}

	if err := manager.AutoRegisterServices(servicesCfg); err != nil {
		log.Fatal("failed to register services:", err)
	}

	if err := manager.StartAll(); err != nil {
		log.Fatal("failed to start:", err)
	}

	// Graceful shutdown handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	if err := manager.StopAll(); err != nil {
		log.Println("failed to stop:", err)
	}
}
