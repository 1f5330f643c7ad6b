package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tft-tracker/internal/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrDuplicatePlayer = errors.New("player already tracked")
	ErrMissingField    = errors.New("missing required field")
)

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

const playerColumns = `puuid, region, platform, name, tag, last_match_id,
	solo_tier, solo_division, solo_lp,
	doubleup_tier, doubleup_division, doubleup_lp,
	created_at, updated_at`

func scanPlayer(row interface{ Scan(...any) error }) (*domain.TrackedPlayer, error) {
	var p domain.TrackedPlayer
	var lastMatch sql.NullString
	err := row.Scan(
		&p.Puuid, &p.Region, &p.Platform, &p.Name, &p.Tag, &lastMatch,
		&p.Solo.Tier, &p.Solo.Division, &p.Solo.LP,
		&p.DoubleUp.Tier, &p.DoubleUp.Division, &p.DoubleUp.LP,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastMatch.Valid {
		p.LastMatchID = &lastMatch.String
	}
	return &p, nil
}

func (r *PlayerRepository) ListTrackedPlayers(ctx context.Context) ([]domain.TrackedPlayer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM tracked_players ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked players: %w", err)
	}
	defer rows.Close()

	var players []domain.TrackedPlayer
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked player: %w", err)
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (r *PlayerRepository) GetTrackedPlayer(ctx context.Context, puuid string) (*domain.TrackedPlayer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM tracked_players WHERE puuid = ?`, puuid)
	p, err := scanPlayer(row)
	if err == sql.ErrNoRows {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked player: %w", err)
	}
	return p, nil
}

func (r *PlayerRepository) PlayerExists(ctx context.Context, puuid string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tracked_players WHERE puuid = ?`, puuid).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check player existence: %w", err)
	}
	return count > 0, nil
}

// SetLastSeenMatch advances the player's last-seen pointer. Returns false
// when no row matched.
func (r *PlayerRepository) SetLastSeenMatch(ctx context.Context, puuid, matchID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tracked_players SET last_match_id = ?, updated_at = ? WHERE puuid = ?`,
		matchID, time.Now(), puuid)
	if err != nil {
		return false, fmt.Errorf("failed to set last seen match: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PlayerRepository) RegisterPlayer(ctx context.Context, p *domain.TrackedPlayer) (*domain.TrackedPlayer, error) {
	if p.Puuid == "" || p.Region == "" || p.Platform == "" || p.Name == "" || p.Tag == "" {
		return nil, ErrMissingField
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	var lastMatch sql.NullString
	if p.LastMatchID != nil {
		lastMatch = sql.NullString{String: *p.LastMatchID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tracked_players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Puuid, p.Region, p.Platform, p.Name, p.Tag, lastMatch,
		p.Solo.Tier, p.Solo.Division, p.Solo.LP,
		p.DoubleUp.Tier, p.DoubleUp.Division, p.DoubleUp.LP,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, ErrDuplicatePlayer
		}
		return nil, fmt.Errorf("failed to register player: %w", err)
	}

	r.logger.Info().Str("puuid", p.Puuid).Str("riot_id", p.RiotID()).Msg("player registered")
	return p, nil
}

func (r *PlayerRepository) RemovePlayer(ctx context.Context, puuid string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tracked_players WHERE puuid = ?`, puuid)
	if err != nil {
		return false, fmt.Errorf("failed to remove player: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ApplyRankUpdate reads the player's current snapshots and writes the new
// ones under a single transaction, returning both deltas. The new snapshots
// are written unconditionally, unranked included, to keep the row current.
// Any failure rolls back without a partial write.
func (r *PlayerRepository) ApplyRankUpdate(ctx context.Context, puuid string, snaps domain.RankSnapshots) (domain.DeltaResults, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeltaResults{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var old domain.RankSnapshots
	err = tx.QueryRowContext(ctx,
		`SELECT solo_tier, solo_division, solo_lp,
			doubleup_tier, doubleup_division, doubleup_lp
		FROM tracked_players WHERE puuid = ?`, puuid).Scan(
		&old.Solo.Tier, &old.Solo.Division, &old.Solo.LP,
		&old.DoubleUp.Tier, &old.DoubleUp.Division, &old.DoubleUp.LP,
	)
	if err == sql.ErrNoRows {
		return domain.DeltaResults{}, ErrPlayerNotFound
	}
	if err != nil {
		return domain.DeltaResults{}, fmt.Errorf("failed to read current rank: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tracked_players SET
			solo_tier = ?, solo_division = ?, solo_lp = ?,
			doubleup_tier = ?, doubleup_division = ?, doubleup_lp = ?,
			updated_at = ?
		WHERE puuid = ?`,
		snaps.Solo.Tier, snaps.Solo.Division, snaps.Solo.LP,
		snaps.DoubleUp.Tier, snaps.DoubleUp.Division, snaps.DoubleUp.LP,
		time.Now(), puuid)
	if err != nil {
		return domain.DeltaResults{}, fmt.Errorf("failed to write new rank: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.DeltaResults{}, fmt.Errorf("failed to commit rank update: %w", err)
	}

	return domain.DeltaResults{
		Solo:     domain.ComputeDelta(old.Solo, snaps.Solo),
		DoubleUp: domain.ComputeDelta(old.DoubleUp, snaps.DoubleUp),
	}, nil
}
