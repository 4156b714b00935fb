// Команда migrate управляет схемой PostgreSQL для ticketchange:
// применяет, откатывает и показывает состояние миграций.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/avolkov/ticketchange/internal/storage/postgres"
)

const commandTimeout = 30 * time.Second

type cliOptions struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	opts, err := readOptions()
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := execute(ctx, store, opts); err != nil {
		fail("%v", err)
	}
}

// readOptions разбирает флаги и достраивает DSN из окружения.
func readOptions() (cliOptions, error) {
	var opts cliOptions

	flag.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: TCS_POSTGRES_DSN)")
	flag.Parse()

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(os.Getenv("TCS_POSTGRES_DSN"))
	}
	if opts.dsn == "" {
		return cliOptions{}, fmt.Errorf("TCS_POSTGRES_DSN (or -dsn) is required")
	}

	switch opts.direction {
	case "up", "down", "status":
	default:
		return cliOptions{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}

	return opts, nil
}

func execute(ctx context.Context, store *postgres.Store, opts cliOptions) error {
	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		steps := opts.steps
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	fmt.Printf("migrate %s ok: version=%d applied=%d\n", opts.direction, version, applied)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
