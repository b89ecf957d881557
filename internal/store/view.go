package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// DefaultView is the reporting view refreshed after each ingest.
const DefaultView = "transactions_view"

const refreshTimeout = 2 * time.Minute

// ViewRefresher rebuilds a materialized view when it exists.
type ViewRefresher struct {
	db   DBTX
	view string
	log  zerolog.Logger
}

// NewViewRefresher returns a refresher for view. db must be safe for
// concurrent use when RefreshAsync is called.
func NewViewRefresher(db DBTX, view string, log zerolog.Logger) *ViewRefresher {
	if view == "" {
		view = DefaultView
	}
	return &ViewRefresher{db: db, view: view, log: log}
}

// Refresh refreshes the view. A missing view is not an error.
func (r *ViewRefresher) Refresh(ctx context.Context) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_matviews WHERE matviewname = $1)`, r.view,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking view %s: %w", r.view, err)
	}
	if !exists {
		return nil
	}
	if _, err := r.db.Exec(ctx, "REFRESH MATERIALIZED VIEW "+pgx.Identifier{r.view}.Sanitize()); err != nil {
		return fmt.Errorf("refreshing view %s: %w", r.view, err)
	}
	return nil
}

// RefreshAsync refreshes in the background. Failures are logged at debug
// level and never reach the caller.
func (r *ViewRefresher) RefreshAsync(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		if err := r.Refresh(ctx); err != nil {
			r.log.Debug().Err(err).Str("view", r.view).Msg("view refresh failed")
		}
	}()
	return done
}
