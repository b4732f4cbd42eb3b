package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/settlement/internal/core/domain"
)

func (s *queries) FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	var l domain.Lead
	err := s.q.QueryRowContext(ctx, `
		SELECT id, email, name, phone, source, status, created_at
		FROM leads WHERE email = ? ORDER BY created_at LIMIT 1`, email,
	).Scan(&l.ID, &l.Email, &l.Name, &l.Phone, &l.Source, &l.Status, &l.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lead: %w", err)
	}
	return &l, nil
}

func (s *queries) InsertLead(ctx context.Context, l domain.Lead) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leads (id, email, name, phone, source, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Email, l.Name, l.Phone, l.Source, l.Status, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (s *queries) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.findAccount(ctx, `WHERE id = ?`, id)
}

func (s *queries) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.findAccount(ctx, `WHERE email = ? ORDER BY created_at LIMIT 1`, email)
}

func (s *queries) findAccount(ctx context.Context, where string, args ...any) (*domain.Account, error) {
	var a domain.Account
	err := s.q.QueryRowContext(ctx, `SELECT id, name, email, phone, created_at FROM accounts `+where, args...).
		Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &a.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

func (s *queries) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (id, name, email, phone, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Email, a.Phone, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *queries) FindContact(ctx context.Context, accountID, email string) (*domain.Contact, error) {
	var c domain.Contact
	err := s.q.QueryRowContext(ctx, `
		SELECT id, account_id, name, email, phone, is_primary, created_at
		FROM contacts WHERE account_id = ? AND email = ?
		ORDER BY is_primary DESC, created_at LIMIT 1`, accountID, email,
	).Scan(&c.ID, &c.AccountID, &c.Name, &c.Email, &c.Phone, &c.IsPrimary, &c.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}
	return &c, nil
}

func (s *queries) InsertContact(ctx context.Context, c domain.Contact) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO contacts (id, account_id, name, email, phone, is_primary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Name, c.Email, c.Phone, c.IsPrimary, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (s *queries) InsertOpportunity(ctx context.Context, o domain.Opportunity) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO opportunities (id, account_id, name, stage, value, probability, won_date, close_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.Name, o.Stage, o.Value, o.Probability,
		nullTime(o.WonDate), nullTime(o.CloseDate), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}
	return nil
}

func (s *queries) GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error) {
	var o domain.Opportunity
	var won, closed sql.NullTime
	err := s.q.QueryRowContext(ctx, `
		SELECT id, account_id, name, stage, value, probability, won_date, close_date, created_at, updated_at
		FROM opportunities WHERE id = ?`+s.forUpdate(), id,
	).Scan(&o.ID, &o.AccountID, &o.Name, &o.Stage, &o.Value, &o.Probability, &won, &closed, &o.CreatedAt, &o.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query opportunity: %w", err)
	}
	o.WonDate = timePtr(won)
	o.CloseDate = timePtr(closed)
	return &o, nil
}

func (s *queries) UpdateOpportunity(ctx context.Context, o domain.Opportunity) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE opportunities
		SET stage = ?, value = ?, probability = ?, won_date = ?, close_date = ?, updated_at = ?
		WHERE id = ?`,
		o.Stage, o.Value, o.Probability, nullTime(o.WonDate), nullTime(o.CloseDate), o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update opportunity: %w", err)
	}
	return nil
}

// InsertActivity ignores a replayed id so outbox redelivery stays harmless.
func (s *queries) InsertActivity(ctx context.Context, a domain.Activity) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT IGNORE INTO activities (id, type, subject, entity_type, entity_id, account_id, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Subject, a.EntityType, a.EntityID, a.AccountID, a.UserID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// UpsertAbandonedCart refreshes the session's ACTIVE cart or starts a new one.
func (s *queries) UpsertAbandonedCart(ctx context.Context, c domain.AbandonedCart) error {
	payload, err := json.Marshal(c.Cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE abandoned_carts SET email = ?, cart = ?, updated_at = ?
		WHERE session_id = ? AND status = ?`,
		c.Email, string(payload), c.UpdatedAt, c.SessionID, domain.AbandonedCartActive,
	)
	if err != nil {
		return fmt.Errorf("update abandoned cart: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO abandoned_carts (id, session_id, email, cart, status, order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		c.ID, c.SessionID, c.Email, string(payload), domain.AbandonedCartActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert abandoned cart: %w", err)
	}
	return nil
}

func (s *queries) MarkAbandonedCartConverted(ctx context.Context, sessionID, email, orderID string, at time.Time) (int64, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE abandoned_carts SET status = ?, order_id = ?, updated_at = ?
		WHERE status = ? AND ((? <> '' AND session_id = ?) OR (? <> '' AND email = ?))`,
		domain.AbandonedCartConverted, orderID, at,
		domain.AbandonedCartActive, sessionID, sessionID, email, email,
	)
	if err != nil {
		return 0, fmt.Errorf("convert abandoned carts: %w", err)
	}
	return result.RowsAffected()
}
