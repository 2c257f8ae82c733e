package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	organizations "linkband-cloud/internal/organizations/domain"
)

const defaultOrganizationsTable = "organizations"

// DBTX abstracts *sql.DB and *sql.Tx so repositories run inside transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OrganizationRepository is a Postgres implementation for the directory.
type OrganizationRepository struct {
	db    DBTX
	table string
}

// NewOrganizationRepository constructs a repository.
func NewOrganizationRepository(db DBTX, opts ...OrganizationOption) *OrganizationRepository {
	repo := &OrganizationRepository{db: db, table: defaultOrganizationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// OrganizationOption configures the repository.
type OrganizationOption func(*OrganizationRepository)

// WithOrganizationTable overrides the default table name.
func WithOrganizationTable(table string) OrganizationOption {
	return func(repo *OrganizationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads an organization by id.
func (r *OrganizationRepository) Get(ctx context.Context, id string) (*organizations.Organization, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("organization repo: nil db")
	}
	if id == "" {
		return nil, errors.New("organization repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, name, contact_email, contact_phone, address, status, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var org organizations.Organization
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.ContactEmail,
		&org.ContactPhone,
		&org.Address,
		&org.Status,
		&org.CreatedAt,
		&org.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	org.CreatedAt = org.CreatedAt.UTC()
	org.UpdatedAt = org.UpdatedAt.UTC()
	return &org, nil
}

// List loads all organizations ordered by id.
func (r *OrganizationRepository) List(ctx context.Context) ([]organizations.Organization, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("organization repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, name, contact_email, contact_phone, address, status, created_at, updated_at
FROM %s
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []organizations.Organization
	for rows.Next() {
		var org organizations.Organization
		if err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.ContactEmail,
			&org.ContactPhone,
			&org.Address,
			&org.Status,
			&org.CreatedAt,
			&org.UpdatedAt,
		); err != nil {
			return nil, err
		}
		org.CreatedAt = org.CreatedAt.UTC()
		org.UpdatedAt = org.UpdatedAt.UTC()
		result = append(result, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts an organization.
func (r *OrganizationRepository) Save(ctx context.Context, org *organizations.Organization) error {
	if r == nil || r.db == nil {
		return errors.New("organization repo: nil db")
	}
	if org == nil {
		return errors.New("organization repo: nil organization")
	}
	if err := org.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	name,
	contact_email,
	contact_phone,
	address,
	status
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	contact_email = EXCLUDED.contact_email,
	contact_phone = EXCLUDED.contact_phone,
	address = EXCLUDED.address,
	status = EXCLUDED.status,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		org.ID,
		org.Name,
		org.ContactEmail,
		org.ContactPhone,
		org.Address,
		org.Status,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	return nil
}
