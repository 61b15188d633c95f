package repository

import (
	"context"

	"github.com/foxseedlab/streamscribe/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) SaveTranscript(ctx context.Context, input repository.SaveTranscriptInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcripts (transcript_key, source, content, language, reason, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		input.Key, string(input.Source), input.Text, input.Language, string(input.Reason), input.StartedAt, input.EndedAt)
	return err
}

func (r *PostgresRepository) ListTranscriptsByKey(ctx context.Context, key string, limit int) ([]repository.Transcript, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, transcript_key, source, content, language, reason, started_at, ended_at, created_at
		 FROM transcripts WHERE transcript_key = $1 ORDER BY created_at DESC LIMIT $2`,
		key, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.Transcript, error) {
		var t repository.Transcript
		var source, reason string
		err := row.Scan(&t.ID, &t.Key, &source, &t.Text, &t.Language, &reason, &t.StartedAt, &t.EndedAt, &t.CreatedAt)
		t.Source = repository.TranscriptSource(source)
		t.Reason = repository.EndReason(reason)
		return t, err
	})
}

// Shutdown releases the pool when the injector shuts down.
func (r *PostgresRepository) Shutdown() error {
	r.pool.Close()
	return nil
}
