package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"replyflow/internal/model"
)

type accountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `
	id, platform, account_id, display_name, credentials_ref,
	poll_interval_seconds, enabled, fetch_cursor, reply_tone,
	reply_max_length, banned_phrases, reply_language, created_at, updated_at
`

func (r *accountRepository) List(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY platform, account_id`
	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) ListEnabled(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE enabled ORDER BY id`
	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("list enabled accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	err := r.db.GetContext(ctx, &account, query, id)
	if err == sql.ErrNoRows {
		return nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET enabled = $1, updated_at = now() WHERE id = $2
	`, enabled, id)
	if err != nil {
		return fmt.Errorf("set account enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set account enabled: %w", err)
	}
	if n == 0 {
		return model.ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) SaveCursor(ctx context.Context, id int64, cursor string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET fetch_cursor = $1, updated_at = now() WHERE id = $2
	`, cursor, id)
	if err != nil {
		return fmt.Errorf("save fetch cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save fetch cursor: %w", err)
	}
	if n == 0 {
		return model.ErrAccountNotFound
	}
	return nil
}
