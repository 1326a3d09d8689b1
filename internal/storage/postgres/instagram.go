package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vanevents/harvester/internal/common"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// InstagramRepository implements interfaces.InstagramStorage.
type InstagramRepository struct {
	db *sqlx.DB
}

const instagramCols = `id, username, active, last_scraped_at, created_at`

func (r *InstagramRepository) CreateAccount(ctx context.Context, account *models.InstagramAccount) error {
	if account.ID == "" {
		account.ID = common.NewID()
	}
	account.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO instagram_accounts (id, username, active, created_at)
		 VALUES ($1, $2, $3, $4)`,
		account.ID, account.Username, account.Active, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("create instagram account: %w", err)
	}
	return nil
}

func (r *InstagramRepository) GetAccount(ctx context.Context, id string) (*models.InstagramAccount, error) {
	var account models.InstagramAccount
	err := r.db.GetContext(ctx, &account,
		`SELECT `+instagramCols+` FROM instagram_accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instagram account %s: %w", id, err)
	}
	return &account, nil
}

func (r *InstagramRepository) GetAccountByUsername(ctx context.Context, username string) (*models.InstagramAccount, error) {
	var account models.InstagramAccount
	err := r.db.GetContext(ctx, &account,
		`SELECT `+instagramCols+` FROM instagram_accounts WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instagram account %s: %w", username, err)
	}
	return &account, nil
}

// ListAccounts orders by username so fan-out enumeration is deterministic.
func (r *InstagramRepository) ListAccounts(ctx context.Context, activeOnly bool) ([]*models.InstagramAccount, error) {
	query := `SELECT ` + instagramCols + ` FROM instagram_accounts`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY username`

	accounts := []*models.InstagramAccount{}
	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("list instagram accounts: %w", err)
	}
	return accounts, nil
}

func (r *InstagramRepository) UpdateAccount(ctx context.Context, account *models.InstagramAccount) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE instagram_accounts SET username = $2, active = $3 WHERE id = $1`,
		account.ID, account.Username, account.Active)
	if err != nil {
		return fmt.Errorf("update instagram account %s: %w", account.ID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *InstagramRepository) TouchLastScraped(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE instagram_accounts SET last_scraped_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch instagram account %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *InstagramRepository) DeleteAccount(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM instagram_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete instagram account %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
