package postgres

import (
	"context"
	"database/sql"
	"strings"

	"vet-practice-records/internal/domain/accounts"
	"vet-practice-records/internal/ports/storage"
)

type AccountsRepo struct {
	db *sql.DB
}

func NewAccountsRepo(db *sql.DB) *AccountsRepo {
	return &AccountsRepo{db: db}
}

const accountColumns = `
	id, email, full_name, phone, vcn, specialization,
	status, profile_completed, is_master_admin,
	submitted_at, approved_at, approved_by,
	rejected_at, rejection_reason, suspended_at, suspension_reason,
	created_at, updated_at`

func (r *AccountsRepo) Create(ctx context.Context, a accounts.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		a.ID, a.Email, a.FullName, a.Phone, a.VCN, a.Specialization,
		string(a.Status), a.ProfileCompleted, a.IsMasterAdmin,
		toNullTime(a.SubmittedAt), toNullTime(a.ApprovedAt), a.ApprovedBy,
		toNullTime(a.RejectedAt), a.RejectionReason, toNullTime(a.SuspendedAt), a.SuspensionReason,
		a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err)
}

func (r *AccountsRepo) Update(ctx context.Context, a accounts.Account) error {
	return execOne(r.db.ExecContext(ctx, `
		UPDATE accounts
		SET
			email = $2,
			full_name = $3,
			phone = $4,
			vcn = $5,
			specialization = $6,
			status = $7,
			profile_completed = $8,
			is_master_admin = $9,
			submitted_at = $10,
			approved_at = $11,
			approved_by = $12,
			rejected_at = $13,
			rejection_reason = $14,
			suspended_at = $15,
			suspension_reason = $16,
			updated_at = $17
		WHERE id = $1
	`,
		a.ID, a.Email, a.FullName, a.Phone, a.VCN, a.Specialization,
		string(a.Status), a.ProfileCompleted, a.IsMasterAdmin,
		toNullTime(a.SubmittedAt), toNullTime(a.ApprovedAt), a.ApprovedBy,
		toNullTime(a.RejectedAt), a.RejectionReason, toNullTime(a.SuspendedAt), a.SuspensionReason,
		a.UpdatedAt,
	))
}

func (r *AccountsRepo) GetByID(ctx context.Context, id string) (accounts.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return accounts.Account{}, storage.ErrNotFound
	}
	return scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *AccountsRepo) GetByVCN(ctx context.Context, vcn string) (accounts.Account, error) {
	if vcn == "" {
		return accounts.Account{}, storage.ErrNotFound
	}
	return scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE vcn = $1`, vcn))
}

func (r *AccountsRepo) GetByEmail(ctx context.Context, email string) (accounts.Account, error) {
	if email == "" {
		return accounts.Account{}, storage.ErrNotFound
	}
	// email no es único (cuentas por proveedor); se toma la más antigua.
	return scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE email = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, email))
}

func (r *AccountsRepo) ListByStatus(ctx context.Context, status accounts.Status) ([]accounts.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE status = $1
		ORDER BY created_at ASC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]accounts.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (accounts.Account, error) {
	var a accounts.Account
	var status string
	var submitted, approved, rejected, suspended sql.NullTime
	if err := row.Scan(
		&a.ID, &a.Email, &a.FullName, &a.Phone, &a.VCN, &a.Specialization,
		&status, &a.ProfileCompleted, &a.IsMasterAdmin,
		&submitted, &approved, &a.ApprovedBy,
		&rejected, &a.RejectionReason, &suspended, &a.SuspensionReason,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return accounts.Account{}, mapErr(err)
	}
	a.Status = accounts.Status(status)
	a.SubmittedAt = fromNullTime(submitted)
	a.ApprovedAt = fromNullTime(approved)
	a.RejectedAt = fromNullTime(rejected)
	a.SuspendedAt = fromNullTime(suspended)
	return a, nil
}
