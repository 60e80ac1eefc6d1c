package main

import (
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"

	"github.com/honeynil/referral-credit-service/internal/config"
	"github.com/honeynil/referral-credit-service/internal/migrations"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		logger.Fatal().Msg("usage: migrate <up|down|version|force VERSION>")
	}

	cfg, err := config.Load(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	m, err := migrations.New(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create migrate instance")
	}
	defer m.Close()

	switch os.Args[1] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		logger.Info().Msg("migrations applied")

	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("failed to roll back migration")
		}
		logger.Info().Msg("last migration rolled back")

	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			logger.Fatal().Err(err).Msg("failed to get version")
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("current schema version")

	case "force":
		if len(os.Args) < 3 {
			logger.Fatal().Msg("usage: migrate force VERSION")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Fatal().Err(err).Str("version", os.Args[2]).Msg("invalid version")
		}
		if err := m.Force(version); err != nil {
			logger.Fatal().Err(err).Msg("failed to force version")
		}
		logger.Info().Int("version", version).Msg("version forced")

	default:
		logger.Fatal().Str("command", os.Args[1]).Msg("unknown command")
	}
}
