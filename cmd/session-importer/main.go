package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"recruiter-inbox/internal/adapters/linkedin"
	"recruiter-inbox/internal/adapters/repo"
	"recruiter-inbox/internal/infra/config"
	"recruiter-inbox/internal/infra/db"
)

func main() {
	var (
		filePath    string
		sessionName string
	)
	flag.StringVar(&filePath, "file", "", "Path to exported session file (cookie jar or browser export)")
	flag.StringVar(&sessionName, "name", "default", "Name of the stored session")
	flag.Parse()

	if filePath == "" {
		log.Fatal().Msg("session-importer: path to session file is required (-file)")
	}

	sessionData, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to read session file")
	}
	normalized, converted, err := linkedin.NormalizeSessionBytes(sessionData)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: unsupported session format")
	}
	sessionData = normalized

	cfg := config.Load()
	if cfg.PGDSN == "" {
		log.Fatal().Msg("session-importer: PG_DSN environment variable is required")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to connect to database")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := repoAdapter.Sessions.StoreSession(ctx, sessionName, sessionData); err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to store session in database")
	}

	if converted {
		fmt.Println("Session was converted to the canonical cookie format before storing")
	}
	fmt.Printf("Stored session %q (%d bytes) in database\n", sessionName, len(sessionData))
}
