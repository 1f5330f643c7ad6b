package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tft-tracker/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type RankHistoryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRankHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *RankHistoryRepository {
	return &RankHistoryRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// Append records one per-queue rank movement tied to a match.
func (r *RankHistoryRepository) Append(ctx context.Context, entries []domain.RankHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		id := entry.ID
		if id == "" {
			id, err = gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate nanoid: %w", err)
			}
		}
		createdAt := entry.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		var delta sql.NullInt64
		if entry.Delta != nil {
			delta = sql.NullInt64{Int64: int64(*entry.Delta), Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO rank_history (id, puuid, match_id, queue, tier, division, lp, delta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, entry.Puuid, entry.MatchID, entry.Queue,
			entry.Snapshot.Tier, entry.Snapshot.Division, entry.Snapshot.LP,
			delta, createdAt)
		if err != nil {
			return fmt.Errorf("failed to insert rank history: %w", err)
		}
	}

	return tx.Commit()
}

func (r *RankHistoryRepository) GetByPuuid(ctx context.Context, puuid string, limit int) ([]domain.RankHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, puuid, match_id, queue, tier, division, lp, delta, created_at
		FROM rank_history WHERE puuid = ? ORDER BY created_at DESC LIMIT ?`,
		puuid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rank history: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankHistoryEntry
	for rows.Next() {
		var entry domain.RankHistoryEntry
		var delta sql.NullInt64
		err := rows.Scan(&entry.ID, &entry.Puuid, &entry.MatchID, &entry.Queue,
			&entry.Snapshot.Tier, &entry.Snapshot.Division, &entry.Snapshot.LP,
			&delta, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rank history: %w", err)
		}
		if delta.Valid {
			d := int(delta.Int64)
			entry.Delta = &d
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
