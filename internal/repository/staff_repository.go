package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// StaffCounter names one of the per-staff activity counters.
type StaffCounter string

const (
	CounterTicketsAssigned StaffCounter = "tickets_assigned"
	CounterTicketsResolved StaffCounter = "tickets_resolved"
	CounterRepliesSent     StaffCounter = "replies_sent"
)

// StaffFilter defines query params for staff listing.
type StaffFilter struct {
	ShopID int64
	Role   *domain.StaffRole
	Active *bool
}

// StaffRepository handles persistence for staff members. Rows are never deleted.
type StaffRepository interface {
	Create(ctx context.Context, staff *domain.StaffMember) error
	GetByID(ctx context.Context, id int64) (*domain.StaffMember, error)
	GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error)
	List(ctx context.Context, filter StaffFilter) ([]domain.StaffMember, error)
	SetActive(ctx context.Context, id int64, active bool) error
	SetPassword(ctx context.Context, id int64, hash string) error
	Increment(ctx context.Context, id int64, counter StaffCounter) error
	Touch(ctx context.Context, id int64, at time.Time) error
}

const staffColumns = `id, shop_id, name, email, password_hash, role, is_shop_owner, is_active, tickets_assigned,
       tickets_resolved, replies_sent, last_active_at, created_at, updated_at`

type staffRepository struct {
	db DBTX
}

func (r *staffRepository) Create(ctx context.Context, staff *domain.StaffMember) error {
	const query = `
        INSERT INTO staff_members (shop_id, name, email, password_hash, role, is_shop_owner, is_active)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`

	return r.db.QueryRow(ctx, query,
		staff.ShopID,
		staff.Name,
		strings.ToLower(staff.Email),
		staff.PasswordHash,
		string(staff.Role),
		staff.IsShopOwner,
		staff.IsActive,
	).Scan(&staff.ID, &staff.CreatedAt, &staff.UpdatedAt)
}

func (r *staffRepository) GetByID(ctx context.Context, id int64) (*domain.StaffMember, error) {
	return scanStaff(r.db.QueryRow(ctx, `SELECT `+staffColumns+` FROM staff_members WHERE id=$1`, id))
}

func (r *staffRepository) GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error) {
	return scanStaff(r.db.QueryRow(ctx, `SELECT `+staffColumns+` FROM staff_members WHERE email=$1`, strings.ToLower(email)))
}

func (r *staffRepository) List(ctx context.Context, filter StaffFilter) ([]domain.StaffMember, error) {
	clauses := []string{"shop_id=$1"}
	args := []any{filter.ShopID}

	if filter.Role != nil {
		args = append(args, string(*filter.Role))
		clauses = append(clauses, fmt.Sprintf("role=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("is_active=$%d", len(args)))
	}

	query := `SELECT ` + staffColumns + ` FROM staff_members WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY name ASC, id ASC`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StaffMember
	for rows.Next() {
		staff, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *staff)
	}
	return result, rows.Err()
}

func (r *staffRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return execOne(ctx, r.db, `UPDATE staff_members SET is_active=$1, updated_at=NOW() WHERE id=$2`, active, id)
}

func (r *staffRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	return execOne(ctx, r.db, `UPDATE staff_members SET password_hash=$1, updated_at=NOW() WHERE id=$2`, hash, id)
}

func (r *staffRepository) Increment(ctx context.Context, id int64, counter StaffCounter) error {
	switch counter {
	case CounterTicketsAssigned, CounterTicketsResolved, CounterRepliesSent:
	default:
		return fmt.Errorf("unknown staff counter %q", counter)
	}
	query := fmt.Sprintf(`UPDATE staff_members SET %[1]s = %[1]s + 1, updated_at=NOW() WHERE id=$1`, counter)
	return execOne(ctx, r.db, query, id)
}

func (r *staffRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	return execOne(ctx, r.db, `UPDATE staff_members SET last_active_at=$1 WHERE id=$2`, at, id)
}

func scanStaff(row pgx.Row) (*domain.StaffMember, error) {
	var staff domain.StaffMember
	if err := row.Scan(
		&staff.ID,
		&staff.ShopID,
		&staff.Name,
		&staff.Email,
		&staff.PasswordHash,
		&staff.Role,
		&staff.IsShopOwner,
		&staff.IsActive,
		&staff.TicketsAssigned,
		&staff.TicketsResolved,
		&staff.RepliesSent,
		&staff.LastActiveAt,
		&staff.CreatedAt,
		&staff.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &staff, nil
}
