package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"vet-practice-records/internal/domain/organizations"
	"vet-practice-records/internal/ports/authz"
	"vet-practice-records/internal/ports/storage"
)

type OrganizationsRepo struct {
	db *sql.DB
}

func NewOrganizationsRepo(db *sql.DB) *OrganizationsRepo {
	return &OrganizationsRepo{db: db}
}

const (
	organizationColumns = `id, name, address, phone, email, created_by, created_at, updated_at`

	membershipColumns = `
	id, account_id, organization_id, role, status,
	can_delete_clients, can_delete_animals, can_delete_treatments, can_view_activity_log,
	joined_at, removed_at, removed_by, left_at, updated_at`

	invitationColumns = `
	id, organization_id, email, role,
	can_delete_clients, can_delete_animals, can_delete_treatments, can_view_activity_log,
	status, invited_by, expires_at, responded_at, created_at`
)

// -------------------------
// Organizations
// -------------------------

func (r *OrganizationsRepo) CreateWithOwner(ctx context.Context, org organizations.Organization, owner organizations.Membership) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (`+organizationColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			org.ID, org.Name, org.Address, org.Phone, org.Email, org.CreatedBy, org.CreatedAt, org.UpdatedAt,
		); err != nil {
			return mapErr(err)
		}
		return upsertMembership(ctx, tx, owner)
	})
}

func (r *OrganizationsRepo) UpdateOrganization(ctx context.Context, org organizations.Organization) error {
	return execOne(r.db.ExecContext(ctx, `
		UPDATE organizations
		SET name = $2, address = $3, phone = $4, email = $5, updated_at = $6
		WHERE id = $1
	`, org.ID, org.Name, org.Address, org.Phone, org.Email, org.UpdatedAt))
}

func (r *OrganizationsRepo) GetOrganization(ctx context.Context, id string) (organizations.Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return organizations.Organization{}, storage.ErrNotFound
	}
	return scanOrganization(r.db.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id))
}

func (r *OrganizationsRepo) ListOrganizationsByAccount(ctx context.Context, accountID string) ([]organizations.Organization, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.name, o.address, o.phone, o.email, o.created_by, o.created_at, o.updated_at
		FROM organizations o
		JOIN memberships m ON m.organization_id = o.id
		WHERE m.account_id = $1 AND m.status = $2
		ORDER BY o.created_at ASC
	`, accountID, string(authz.MembershipActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]organizations.Organization, 0)
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrganization(row rowScanner) (organizations.Organization, error) {
	var o organizations.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Address, &o.Phone, &o.Email, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return organizations.Organization{}, mapErr(err)
	}
	return o, nil
}

// -------------------------
// Memberships
// -------------------------

func (r *OrganizationsRepo) GetMembership(ctx context.Context, accountID, organizationID string) (organizations.Membership, error) {
	return scanMembership(r.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE account_id = $1 AND organization_id = $2
	`, accountID, organizationID))
}

func (r *OrganizationsRepo) ListMembers(ctx context.Context, organizationID string) ([]organizations.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE organization_id = $1
		ORDER BY joined_at ASC
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]organizations.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *OrganizationsRepo) UpdateMembership(ctx context.Context, m organizations.Membership) error {
	return execOne(r.db.ExecContext(ctx, `
		UPDATE memberships
		SET
			role = $2,
			status = $3,
			can_delete_clients = $4,
			can_delete_animals = $5,
			can_delete_treatments = $6,
			can_view_activity_log = $7,
			removed_at = $8,
			removed_by = $9,
			left_at = $10,
			updated_at = $11
		WHERE id = $1
	`,
		m.ID, string(m.Role), string(m.Status),
		m.Permissions.CanDeleteClients, m.Permissions.CanDeleteAnimals,
		m.Permissions.CanDeleteTreatments, m.Permissions.CanViewActivityLog,
		toNullTime(m.RemovedAt), m.RemovedBy, toNullTime(m.LeftAt), m.UpdatedAt,
	))
}

// upsertMembership inserta o reactiva por ID (re-join tras REMOVED/LEFT).
func upsertMembership(ctx context.Context, q queryer, m organizations.Membership) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			can_delete_clients = EXCLUDED.can_delete_clients,
			can_delete_animals = EXCLUDED.can_delete_animals,
			can_delete_treatments = EXCLUDED.can_delete_treatments,
			can_view_activity_log = EXCLUDED.can_view_activity_log,
			joined_at = EXCLUDED.joined_at,
			removed_at = EXCLUDED.removed_at,
			removed_by = EXCLUDED.removed_by,
			left_at = EXCLUDED.left_at,
			updated_at = EXCLUDED.updated_at
	`,
		m.ID, m.AccountID, m.OrganizationID, string(m.Role), string(m.Status),
		m.Permissions.CanDeleteClients, m.Permissions.CanDeleteAnimals,
		m.Permissions.CanDeleteTreatments, m.Permissions.CanViewActivityLog,
		m.JoinedAt, toNullTime(m.RemovedAt), m.RemovedBy, toNullTime(m.LeftAt), m.UpdatedAt,
	)
	return mapErr(err)
}

func scanMembership(row rowScanner) (organizations.Membership, error) {
	var m organizations.Membership
	var role, status string
	var removedAt, leftAt sql.NullTime
	if err := row.Scan(
		&m.ID, &m.AccountID, &m.OrganizationID, &role, &status,
		&m.Permissions.CanDeleteClients, &m.Permissions.CanDeleteAnimals,
		&m.Permissions.CanDeleteTreatments, &m.Permissions.CanViewActivityLog,
		&m.JoinedAt, &removedAt, &m.RemovedBy, &leftAt, &m.UpdatedAt,
	); err != nil {
		return organizations.Membership{}, mapErr(err)
	}
	m.Role = authz.Role(role)
	m.Status = authz.MembershipStatus(status)
	m.RemovedAt = fromNullTime(removedAt)
	m.LeftAt = fromNullTime(leftAt)
	return m, nil
}

// -------------------------
// Invitations
// -------------------------

func (r *OrganizationsRepo) CreateInvitation(ctx context.Context, inv organizations.Invitation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		inv.ID, inv.OrganizationID, inv.Email, string(inv.Role),
		inv.Permissions.CanDeleteClients, inv.Permissions.CanDeleteAnimals,
		inv.Permissions.CanDeleteTreatments, inv.Permissions.CanViewActivityLog,
		string(inv.Status), inv.InvitedBy, inv.ExpiresAt, toNullTime(inv.RespondedAt), inv.CreatedAt,
	)
	return mapErr(err)
}

func (r *OrganizationsRepo) UpdateInvitation(ctx context.Context, inv organizations.Invitation) error {
	return updateInvitation(ctx, r.db, inv)
}

// updateInvitation solo pisa filas PENDING; cero filas => ErrStale.
func updateInvitation(ctx context.Context, q queryer, inv organizations.Invitation) error {
	err := execOne(q.ExecContext(ctx, `
		UPDATE invitations
		SET status = $2, responded_at = $3
		WHERE id = $1 AND status = $4
	`, inv.ID, string(inv.Status), toNullTime(inv.RespondedAt), string(organizations.InvitationPending)))
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ErrStale
	}
	return err
}

func (r *OrganizationsRepo) GetInvitation(ctx context.Context, id string) (organizations.Invitation, error) {
	return scanInvitation(r.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
}

func (r *OrganizationsRepo) DeletePendingInvitation(ctx context.Context, id string) error {
	return execOne(r.db.ExecContext(ctx, `
		DELETE FROM invitations WHERE id = $1 AND status = $2
	`, id, string(organizations.InvitationPending)))
}

func (r *OrganizationsRepo) ListInvitationsByOrganization(ctx context.Context, organizationID string) ([]organizations.Invitation, error) {
	return r.listInvitations(ctx, `organization_id = $1`, organizationID)
}

func (r *OrganizationsRepo) ListInvitationsByEmail(ctx context.Context, email string) ([]organizations.Invitation, error) {
	return r.listInvitations(ctx, `email = $1`, email)
}

func (r *OrganizationsRepo) AcceptInvitation(ctx context.Context, inv organizations.Invitation, m organizations.Membership) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := updateInvitation(ctx, tx, inv); err != nil {
			return err
		}
		return upsertMembership(ctx, tx, m)
	})
}

func (r *OrganizationsRepo) listInvitations(ctx context.Context, where string, arg string) ([]organizations.Invitation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE `+where+`
		ORDER BY created_at ASC
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]organizations.Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanInvitation(row rowScanner) (organizations.Invitation, error) {
	var inv organizations.Invitation
	var role, status string
	var respondedAt sql.NullTime
	if err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &role,
		&inv.Permissions.CanDeleteClients, &inv.Permissions.CanDeleteAnimals,
		&inv.Permissions.CanDeleteTreatments, &inv.Permissions.CanViewActivityLog,
		&status, &inv.InvitedBy, &inv.ExpiresAt, &respondedAt, &inv.CreatedAt,
	); err != nil {
		return organizations.Invitation{}, mapErr(err)
	}
	inv.Role = authz.Role(role)
	inv.Status = organizations.InvitationStatus(status)
	inv.RespondedAt = fromNullTime(respondedAt)
	return inv, nil
}
