package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/saeid-a/ClinicChatBack/pkg/logger"
)

// Usage: migrate [up|down|steps N|version]
func main() {
	if err := godotenv.Load(); err != nil {
		logger.Get().Debug().Msg("no .env file found")
	}
	logger.Init(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	log := logger.Component("migrate")

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal().Msg("DB_URL environment variable is required")
	}

	migrationsPath, err := findMigrations()
	if err != nil {
		log.Fatal().Err(err).Msg("locate migrations")
	}

	m, err := migrate.New("file://"+migrationsPath, dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open migrations")
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(os.Args) < 3 {
			log.Fatal().Msg("steps needs a count, e.g. steps -1")
		}
		n, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			log.Fatal().Err(convErr).Msg("invalid step count")
		}
		err = m.Steps(n)
	case "version":
		version, dirty, vErr := m.Version()
		if vErr != nil && !errors.Is(vErr, migrate.ErrNilVersion) {
			log.Fatal().Err(vErr).Msg("read version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")
		return
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	log.Info().Str("command", cmd).Str("path", migrationsPath).Msg("migration successful")
}

// findMigrations walks up from the working directory and the executable
// looking for a migrations directory.
func findMigrations() (string, error) {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		current := cwd
		for i := 0; i < 6; i++ {
			candidates = append(candidates, filepath.Join(current, "migrations"))
			parent := filepath.Dir(current)
			if parent == current {
				break
			}
			current = parent
		}
	}
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append(candidates,
			filepath.Join(exeDir, "migrations"),
			filepath.Join(exeDir, "..", "migrations"),
		)
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return filepath.Abs(candidate)
		}
	}
	return "", errors.New("migrations directory not found")
}
