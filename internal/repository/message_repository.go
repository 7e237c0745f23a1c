package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomchat/internal/models"
)

type MessageRepo interface {
	SaveBatch(ctx context.Context, messages []*models.Message) error
}

type PostgresMessagesRepo struct {
	pool *pgxpool.Pool
}

func NewMessagesRepo(pool *pgxpool.Pool) *PostgresMessagesRepo {
	return &PostgresMessagesRepo{pool: pool}
}

const insertMessage = `
	INSERT INTO room_messages (id, room_id, seq, sender_name, content, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING`

// SaveBatch writes messages in one round trip. Replays are ignored.
func (r *PostgresMessagesRepo) SaveBatch(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(insertMessage, m.ID, m.RoomID, m.Seq, m.Sender, m.Content, m.CreatedAt)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, m := range messages {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save message %s: %w", m.ID, err)
		}
	}
	return nil
}
