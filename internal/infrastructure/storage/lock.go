package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"BreachWatch/internal/ports"
)

// DefaultLockKey identifies scan runs among other advisory lock users of the database.
const DefaultLockKey int64 = 0x62726561636877 // "breachw"

// AdvisoryLock serializes scan runs across processes sharing one database.
// The session lock lives on a dedicated connection held until release.
type AdvisoryLock struct {
	db  *sql.DB
	key int64
}

var _ ports.RunLock = (*AdvisoryLock)(nil)

func NewAdvisoryLock(db *sql.DB, key int64) *AdvisoryLock {
	if key == 0 {
		key = DefaultLockKey
	}
	return &AdvisoryLock{db: db, key: key}
}

func (l *AdvisoryLock) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
			_ = conn.Close()
		})
	}
	return release, true, nil
}

// LocalLock admits one run per process.
type LocalLock struct {
	mu sync.Mutex
}

var _ ports.RunLock = (*LocalLock)(nil)

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, true, nil
}
