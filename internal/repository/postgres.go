package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prospectia/enrichment-back/internal/domain"
)

// PostgresRepository implements every repository contract over pgx. Schema
// ownership (migrations) lives with the surrounding CRM.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) GetProspect(ctx context.Context, prospectID string) (*domain.Prospect, error) {
	var (
		prospect domain.Prospect
		reviews  []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, category, address, phone, website, rating, reviews_count, reviews, processed
		FROM prospects
		WHERE id = $1
	`, prospectID).Scan(
		&prospect.ID,
		&prospect.Name,
		&prospect.Category,
		&prospect.Address,
		&prospect.Phone,
		&prospect.Website,
		&prospect.Rating,
		&prospect.ReviewsCount,
		&reviews,
		&prospect.Processed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: prospect %s", ErrNotFound, prospectID)
		}
		return nil, fmt.Errorf("query prospect: %w", err)
	}

	if len(reviews) > 0 {
		if err := json.Unmarshal(reviews, &prospect.Reviews); err != nil {
			return nil, fmt.Errorf("decode prospect reviews: %w", err)
		}
	}
	return &prospect, nil
}

func (r *PostgresRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: setting %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("query setting: %w", err)
	}
	return value, nil
}

func (r *PostgresRepository) SetSetting(ctx context.Context, key, value, valueType string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value, value_type, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			value_type = EXCLUDED.value_type,
			updated_at = EXCLUDED.updated_at
	`, key, value, valueType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetActiveOverride(ctx context.Context, category string) (string, error) {
	var text string
	err := r.pool.QueryRow(ctx, `
		SELECT body
		FROM prompt_overrides
		WHERE category = $1 AND active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1
	`, category).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: override %s", ErrNotFound, category)
		}
		return "", fmt.Errorf("query override: %w", err)
	}
	return text, nil
}

// UpdateProspectAnalysis commits the analysis and bumps the per-user daily
// usage counter in one transaction. The counter write is an atomic upsert so
// concurrent completions never lose an increment.
func (r *PostgresRepository) UpdateProspectAnalysis(
	ctx context.Context,
	prospectID, userID string,
	analysis *domain.AnalysisResult,
) error {
	blob, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	tags, err := json.Marshal(analysis.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	now := time.Now().UTC()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin analysis tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	command, err := tx.Exec(ctx, `
		UPDATE prospects
		SET analysis = $2,
			analysis_priority = $3,
			analysis_tags = $4,
			message_subject = $5,
			message_body = $6,
			message_channel = $7,
			processed = TRUE,
			analyzed_at = $8
		WHERE id = $1
	`,
		prospectID,
		blob,
		string(analysis.Priority),
		tags,
		analysis.Message.Subject,
		analysis.Message.Body,
		analysis.Message.Channel,
		now,
	)
	if err != nil {
		return fmt.Errorf("update prospect analysis: %w", err)
	}
	if command.RowsAffected() == 0 {
		return fmt.Errorf("%w: prospect %s", ErrNotFound, prospectID)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO usage_counters (user_id, day, analyses_count, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, day) DO UPDATE
		SET analyses_count = usage_counters.analyses_count + 1,
			updated_at = EXCLUDED.updated_at
	`, userID, now.Format("2006-01-02"), now)
	if err != nil {
		return fmt.Errorf("upsert usage counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit analysis tx: %w", err)
	}
	return nil
}
