package main

import (
	"database/sql"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"charactercam/server/internal/infra"
	"charactercam/server/migrations"
)

func main() {
	_ = godotenv.Load()

	logger := infra.NewLogger(os.Getenv("APP_ENV"))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("migrate: DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("migrate: ping database")
	}

	if _, err := db.Exec(migrations.Schema); err != nil {
		logger.Fatal().Err(err).Msg("migrate: apply schema")
	}
	logger.Info().Msg("migrate: schema applied")
}
