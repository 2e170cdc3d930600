package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

// InactiveUsers lists users whose last recorded activity is older than ttl.
type InactiveUsers interface {
	GetInactiveUsers(ctx context.Context, ttl time.Duration) ([]*domain.User, error)
}

// StartIdleWorker runs a background goroutine that periodically closes
// workspaces whose owners have been inactive for ttl.
func StartIdleWorker(ctx context.Context, users InactiveUsers, mgr *Manager, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				closeIdleWorkspaces(ctx, users, mgr, ttl)
			case <-ctx.Done():
				slog.Info("Idle worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// closeIdleWorkspaces closes a workspace only when both the database and
// the in-memory activity clock say it is idle.
func closeIdleWorkspaces(ctx context.Context, users InactiveUsers, mgr *Manager, ttl time.Duration) int {
	inactive, err := users.GetInactiveUsers(ctx, ttl)
	if err != nil {
		slog.Error("Idle worker failed to get inactive users", "error", err)
		return 0
	}
	if len(inactive) == 0 {
		return 0
	}

	cutoff := mgr.now().Add(-ttl)
	closed := 0
	for _, user := range inactive {
		if !mgr.IdleSince(user.UserID, cutoff) {
			continue
		}
		slog.Info("Idle worker closing workspace", "user_id", user.UserID, "last_seen_at", user.LastSeenAt)
		if mgr.Close(ctx, user.UserID) {
			closed++
		}
	}
	if closed > 0 {
		slog.Info("Idle worker cleanup completed", "closed", closed)
	}
	return closed
}
