package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, tenant_id, first_name, last_name, email, phone, status, locale, fields, consent, fatigue`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var (
		r                       model.Recipient
		fields, consent, ledger []byte
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.FirstName, &r.LastName, &r.Email, &r.Phone, &r.Status, &r.Locale, &fields, &consent, &ledger); err != nil {
		return nil, err
	}
	if err := fromJSON(fields, &r.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of recipient %d: %w", r.ID, err)
	}
	if err := fromJSON(consent, &r.Consent); err != nil {
		return nil, fmt.Errorf("decode consent of recipient %d: %w", r.ID, err)
	}
	if err := fromJSON(ledger, &r.Fatigue); err != nil {
		return nil, fmt.Errorf("decode fatigue of recipient %d: %w", r.ID, err)
	}
	return &r, nil
}

// GetByID fetches a recipient by ID
func (r *RecipientRepository) GetByID(ctx context.Context, tenantID, id int) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id=$1 AND tenant_id=$2`
	rec, err := scanRecipient(r.DB.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewRecipientNotFound(id)
		}
		return nil, err
	}
	return rec, nil
}

// ListPage pages recipients by keyset so pages stay stable while rows are
// inserted.
func (r *RecipientRepository) ListPage(ctx context.Context, tenantID, afterID, limit int) ([]*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE tenant_id=$1 AND id>$2 ORDER BY id LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, tenantID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	out := []*model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *RecipientRepository) Create(ctx context.Context, rec *model.Recipient) error {
	fields, err := toJSON(nonNilFields(rec.Fields))
	if err != nil {
		return err
	}
	consent, err := toJSON(nonNilConsent(rec.Consent))
	if err != nil {
		return err
	}
	ledger, err := toJSON(nonNilLedger(rec.Fatigue))
	if err != nil {
		return err
	}
	query := `
        INSERT INTO recipients (tenant_id, first_name, last_name, email, phone, status, locale, fields, consent, fatigue)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, rec.TenantID, rec.FirstName, rec.LastName, rec.Email, rec.Phone,
		rec.Status, rec.Locale, fields, consent, ledger).Scan(&rec.ID)
}

// HasConsent reads the stored consent flag rather than the loaded copy, so a
// withdrawal during a long run is honoured.
func (r *RecipientRepository) HasConsent(ctx context.Context, tenantID int, rec *model.Recipient, ch model.Channel) (bool, error) {
	var ok bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT COALESCE((consent->>$1)::boolean, false) FROM recipients WHERE id=$2 AND tenant_id=$3`,
		string(ch), rec.ID, tenantID,
	).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return ok, err
}

// UpdateLedger locks the recipient row, applies fn and commits the ledger
// together with the events fn produced.
func (r *RecipientRepository) UpdateLedger(ctx context.Context, tenantID, recipientID int, fn fatigue.LedgerFunc) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT fatigue FROM recipients WHERE id=$1 AND tenant_id=$2 FOR UPDATE`,
		recipientID, tenantID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NewRecipientNotFound(recipientID)
		}
		return err
	}

	ledger := model.FatigueLedger{}
	if err := fromJSON(raw, &ledger); err != nil {
		return fmt.Errorf("decode fatigue of recipient %d: %w", recipientID, err)
	}

	changed, events, err := fn(ledger)
	if err != nil {
		return err
	}
	if !changed {
		return tx.Commit()
	}

	data, err := toJSON(ledger)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE recipients SET fatigue=$1 WHERE id=$2 AND tenant_id=$3`, data, recipientID, tenantID); err != nil {
		return fmt.Errorf("write fatigue of recipient %d: %w", recipientID, err)
	}
	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func nonNilFields(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilConsent(m map[model.Channel]bool) map[model.Channel]bool {
	if m == nil {
		return map[model.Channel]bool{}
	}
	return m
}

func nonNilLedger(l model.FatigueLedger) model.FatigueLedger {
	if l == nil {
		return model.FatigueLedger{}
	}
	return l
}
