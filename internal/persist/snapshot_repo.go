package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoSnapshot reports that no snapshot exists under the requested
// label.
var ErrNoSnapshot = errors.New("persist: no snapshot")

// SnapshotRepo stores serialized world snapshots. Snapshots are
// append-only; Prune trims history when a label accumulates too many.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Save appends a snapshot under the label and returns its id.
func (r *SnapshotRepo) Save(ctx context.Context, label string, body []byte) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO snapshots (label, body) VALUES ($1, $2) RETURNING id`,
		label, body,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return id, nil
}

// LoadLatest returns the most recent snapshot body for the label, or
// ErrNoSnapshot.
func (r *SnapshotRepo) LoadLatest(ctx context.Context, label string) ([]byte, error) {
	var body []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT body FROM snapshots WHERE label = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		label,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return body, nil
}

// Prune deletes all but the newest keep snapshots of the label.
func (r *SnapshotRepo) Prune(ctx context.Context, label string, keep int) error {
	if keep < 1 {
		return fmt.Errorf("prune snapshot: keep must be positive, got %d", keep)
	}
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM snapshots
		 WHERE label = $1 AND id NOT IN (
		     SELECT id FROM snapshots WHERE label = $1
		     ORDER BY created_at DESC, id DESC LIMIT $2
		 )`,
		label, keep,
	)
	if err != nil {
		return fmt.Errorf("prune snapshot: %w", err)
	}
	return nil
}
