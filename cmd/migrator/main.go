package main

import (
	"context"
	"flag"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/Skotchmaster/claims_auth/internal/config"
	"github.com/Skotchmaster/claims_auth/internal/db"
)

func main() {
	status := flag.Bool("status", false, "print migration status instead of applying")
	flag.Parse()

	dbURL := config.EnvDefault("DATABASE_URL", "")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is empty")
	}

	sqlDB, err := goose.OpenDBWithDriver("postgres", dbURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *status {
		if err := db.Status(ctx, sqlDB); err != nil {
			log.Fatalf("migrate status: %v", err)
		}
		return
	}
	if err := db.Migrate(ctx, sqlDB); err != nil {
		log.Fatalf("migrate up: %v", err)
	}
	log.Println("migrations: up OK")
}
