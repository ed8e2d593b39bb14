package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/google/uuid"

	"github.com/rebekaee1/mgp-v2/internal/agent"
	"github.com/rebekaee1/mgp-v2/pkg/database"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrConversationNotFound = errors.New("conversation not found")

// Store persists conversations, messages and searches for analytics. It
// implements agent.Recorder.
type Store struct {
	db       *sql.DB
	provider string
	model    string
	logger   logging.Logger
}

func New(db *sql.DB, provider, model string, logger logging.Logger) *Store {
	return &Store{db: db, provider: provider, model: model, logger: logger}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		s.logger.WithField("migration", name).Debug("Applied migration")
	}
	return nil
}

// RecordTurn stores the client message, the reply and the searches it ran
// in one transaction.
func (s *Store) RecordTurn(ctx context.Context, rec agent.TurnRecord) error {
	cards, err := json.Marshal(rec.Reply.OfferCards)
	if err != nil {
		return fmt.Errorf("encode tour cards: %w", err)
	}

	return database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var conversationID string
		err := tx.QueryRowContext(ctx,
			`INSERT INTO conversations (id, session_id, llm_provider, model, ip_address, user_agent)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id) DO UPDATE SET last_active_at = NOW(), status = 'active'
			 RETURNING id`,
			uuid.NewString(), rec.SessionID, s.provider, s.model, rec.ClientIP, rec.UserAgent,
		).Scan(&conversationID)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content) VALUES ($1, 'user', $2)`,
			conversationID, rec.UserText,
		); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, tour_cards, latency_ms)
			 VALUES ($1, 'assistant', $2, $3, $4)`,
			conversationID, rec.Reply.Text, string(cards), rec.Latency.Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}

		for _, search := range rec.Searches {
			if err := insertSearch(ctx, tx, conversationID, search); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations
			 SET message_count = message_count + 2,
			     search_count = search_count + $2,
			     tour_cards_shown = tour_cards_shown + $3,
			     last_active_at = NOW()
			 WHERE id = $1`,
			conversationID, len(rec.Searches), len(rec.Reply.OfferCards),
		); err != nil {
			return fmt.Errorf("update conversation counters: %w", err)
		}
		return nil
	})
}

func insertSearch(ctx context.Context, tx *sql.Tx, conversationID string, r agent.SearchRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tour_searches (
			conversation_id, requestid, search_type, departure, country, regions,
			date_from, date_to, nights_from, nights_to, adults, children, stars, meal,
			price_from, price_to, hotels_found, tours_found, min_price, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		conversationID, nullString(r.RequestID), r.Type, nullInt(r.Departure), nullInt(r.Country), nullString(r.Regions),
		nullString(r.DateFrom), nullString(r.DateTo), nullInt(r.NightsFrom), nullInt(r.NightsTo),
		nullInt(r.Adults), r.Children, nullInt(r.Stars), nullInt(r.Meal),
		nullInt(r.PriceFrom), nullInt(r.PriceTo), r.HotelsFound, r.ToursFound, nullInt(r.MinPrice), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert search: %w", err)
	}
	return nil
}

// CloseConversation marks the session's conversation as reset.
func (s *Store) CloseConversation(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = 'reset', last_active_at = NOW() WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Summary is the aggregate of stored conversations.
type Summary struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Searches      int `json:"searches"`
	CardsShown    int `json:"tour_cards_shown"`
}

func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(message_count), 0), COALESCE(SUM(search_count), 0), COALESCE(SUM(tour_cards_shown), 0)
		 FROM conversations`,
	).Scan(&out.Conversations, &out.Messages, &out.Searches, &out.CardsShown)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
