package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"leadrouting_backend/internal/routing/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WithIdentityLock runs fn while holding a session advisory lock per key.
// The locks live on one dedicated connection and are taken in sorted order.
func (r *Repository) WithIdentityLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	ordered := sortedKeys(keys)
	if len(ordered) == 0 {
		return fn(ctx)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}

	held := make([]string, 0, len(ordered))
	release := func() {
		// Unlock even when the caller's context is already gone.
		unlockCtx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, held[i]); err != nil {
				// A session that may still hold locks must not go back to the pool.
				_ = conn.Hijack().Close(unlockCtx)
				return
			}
		}
		conn.Release()
	}

	for _, key := range ordered {
		if err := r.tryLock(ctx, conn, key); err != nil {
			release()
			return err
		}
		held = append(held, key)
	}
	defer release()

	return fn(ctx)
}

func (r *Repository) tryLock(ctx context.Context, conn *pgxpool.Conn, key string) error {
	for attempt := 1; attempt <= r.lockAttempts; attempt++ {
		var ok bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&ok); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if attempt == r.lockAttempts {
			break
		}

		timer := time.NewTimer(r.lockInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &domain.StageError{Step: domain.StepDedup, Attempts: r.lockAttempts, Err: domain.ErrIdentityBusy}
}

func sortedKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
