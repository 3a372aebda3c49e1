package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"spark/backend/internal/api/handler"
	"spark/backend/internal/config"
	"spark/backend/internal/history"
	"spark/backend/internal/logging"
	"spark/backend/internal/matchmaking"
	"spark/backend/internal/models"
	"spark/backend/internal/options"
	"spark/backend/internal/profiles"
	"spark/backend/internal/storage"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

Commands:
  queue                 list live queue entries
  sweep                 run one sweeper pass
  close-session <id>    force-close an open session
  sessions <uid>        print the open session of a user
  token <uid> [hours]   issue an API token for a user`

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: "warn", Format: "console"})

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	ctx := context.Background()

	if os.Args[1] == "token" {
		runToken(cfg, os.Args[2:])
		return
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect database")
	}
	s := storage.NewStorageService(db)

	switch os.Args[1] {
	case "queue":
		err = listQueue(ctx, s)
	case "sweep":
		err = sweep(ctx, db, s, cfg)
	case "close-session":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin close-session <session_id>")
			os.Exit(1)
		}
		err = closeSession(ctx, s, os.Args[2])
	case "sessions":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin sessions <uid>")
			os.Exit(1)
		}
		err = printSession(ctx, s, os.Args[2])
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		logging.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

func listQueue(ctx context.Context, s storage.Storage) error {
	entries, err := s.ListQueueCandidates(ctx, "", time.Now(), 500)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tMODE\tENQUEUED\tEXPIRES")
	for _, e := range entries {
		mode := "-"
		if e.ModeID != nil {
			mode = *e.ModeID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.UserID, mode,
			e.EnqueuedAt.Format(time.RFC3339), e.ExpiresAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func sweep(ctx context.Context, db *gorm.DB, s storage.Storage, cfg *config.Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	prof := profiles.NewRepo(db, options.NewGormLookup(db))
	sessions := matchmaking.NewSessionService(s, prof, cfg.Matchmaking)
	guard := history.NewGuard(history.NewSQLSource(sqlDB, "postgres"), cfg.Matchmaking.Cooldown)
	matcher := matchmaking.NewMatcherService(s, prof, guard, sessions, cfg.Matchmaking)

	res, err := matchmaking.NewSweeper(matcher, cfg.Matchmaking.SweepInterval).Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Expired queue rows removed: %d, users promoted to host: %d\n", res.Expired, res.Promoted)
	return nil
}

func closeSession(ctx context.Context, s storage.Storage, id string) error {
	sess, err := s.CloseSession(ctx, id, models.SessionClosed, time.Now())
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	fmt.Printf("Session %s has been closed.\n", sess.ID)
	return nil
}

func printSession(ctx context.Context, s storage.Storage, uid string) error {
	sess, err := s.GetOpenSessionForUser(ctx, uid)
	if err != nil {
		return fmt.Errorf("open session of %s: %w", uid, err)
	}
	guest := sess.Guest()
	if guest == "" {
		guest = "-"
	}
	fmt.Printf("Session %s\n  host:    %s\n  guest:   %s\n  role:    %s\n  started: %s\n",
		sess.ID, sess.HostUID, guest, sess.RoleOf(uid), sess.StartedAt.Format(time.RFC3339))
	return nil
}

func runToken(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: admin token <uid> [hours]")
		os.Exit(1)
	}
	hours := 24
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			fmt.Println("Invalid duration. Please provide a positive integer.")
			os.Exit(1)
		}
		hours = n
	}
	token, err := handler.GenerateToken(cfg.Auth.JWTSecret, cfg.Auth.Audience, args[0], time.Duration(hours)*time.Hour)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to sign token")
	}
	fmt.Println(token)
}
