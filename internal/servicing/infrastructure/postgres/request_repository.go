package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	servicing "linkband-cloud/internal/servicing/domain"
)

const defaultRequestsTable = "service_requests"

const requestColumns = `id, device_id, organization_id, allocation_id, request_type,
	issue_categories, priority, status, status_history,
	warranty_eligible, estimated_cost, actual_cost, cost_approval,
	resolution_summary, created_at, updated_at`

// DBTX abstracts *sql.DB and *sql.Tx so repositories run inside transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RequestRepository is a Postgres implementation for service requests.
// Issue categories and the status history are stored as JSONB.
type RequestRepository struct {
	db    DBTX
	table string
}

// RequestOption configures the repository.
type RequestOption func(*RequestRepository)

// WithRequestTable overrides the default table name.
func WithRequestTable(table string) RequestOption {
	return func(repo *RequestRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewRequestRepository constructs a repository.
func NewRequestRepository(db DBTX, opts ...RequestOption) *RequestRepository {
	repo := &RequestRepository{db: db, table: defaultRequestsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a request by id.
func (r *RequestRepository) Get(ctx context.Context, id string) (*servicing.Request, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("request repo: nil db")
	}
	if id == "" {
		return nil, servicing.ErrEmptyID
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, requestColumns, r.table)

	row := r.db.QueryRowContext(ctx, query, id)
	request, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return request, nil
}

// List returns requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, filter servicing.ListFilter) ([]servicing.Request, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("request repo: nil db")
	}

	var conditions []string
	var args []any
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.OrganizationID != "" {
		conditions = append(conditions, "organization_id = "+arg(filter.OrganizationID))
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = "+arg(filter.DeviceID))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
	}
	if filter.OpenOnly {
		conditions = append(conditions, "status NOT IN ('COMPLETED', 'CANCELLED')")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, "\n  AND ")
	}
	limit := ""
	if filter.Limit > 0 {
		limit = "LIMIT " + arg(filter.Limit)
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
%s
ORDER BY created_at DESC
%s`, requestColumns, r.table, where, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []servicing.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountOpenByOrganization returns open request counts per device.
func (r *RequestRepository) CountOpenByOrganization(ctx context.Context, organizationID string) (map[string]int, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("request repo: nil db")
	}
	if organizationID == "" {
		return nil, servicing.ErrEmptyOrganizationID
	}

	query := fmt.Sprintf(`
SELECT device_id, COUNT(*)
FROM %s
WHERE organization_id = $1
  AND status NOT IN ('COMPLETED', 'CANCELLED')
GROUP BY device_id`, r.table)

	rows, err := r.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var deviceID string
		var count int
		if err := rows.Scan(&deviceID, &count); err != nil {
			return nil, err
		}
		counts[deviceID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Create inserts a new request.
func (r *RequestRepository) Create(ctx context.Context, request *servicing.Request) error {
	if r == nil || r.db == nil {
		return errors.New("request repo: nil db")
	}
	if request == nil {
		return errors.New("request repo: nil request")
	}
	if err := request.Validate(); err != nil {
		return err
	}
	categories, history, err := marshalJSONColumns(request)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	device_id,
	organization_id,
	allocation_id,
	request_type,
	issue_categories,
	priority,
	status,
	status_history,
	warranty_eligible,
	estimated_cost,
	actual_cost,
	cost_approval,
	resolution_summary
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9,
	$10, NULLIF($11, 0), NULLIF($12, 0), $13, NULLIF($14, '')
)`, r.table)

	_, err = r.db.ExecContext(
		ctx,
		query,
		request.ID,
		request.DeviceID,
		request.OrganizationID,
		request.AllocationID,
		string(request.RequestType),
		categories,
		string(request.Priority),
		string(request.Status),
		history,
		request.WarrantyEligible,
		request.EstimatedCost,
		request.ActualCost,
		string(request.CostApproval),
		request.ResolutionSummary,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now
	return nil
}

// Update rewrites the mutable columns of a request.
func (r *RequestRepository) Update(ctx context.Context, request *servicing.Request) error {
	if r == nil || r.db == nil {
		return errors.New("request repo: nil db")
	}
	if request == nil {
		return errors.New("request repo: nil request")
	}
	if err := request.Validate(); err != nil {
		return err
	}
	_, history, err := marshalJSONColumns(request)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $2,
	status_history = $3,
	estimated_cost = NULLIF($4, 0),
	actual_cost = NULLIF($5, 0),
	cost_approval = $6,
	resolution_summary = NULLIF($7, ''),
	updated_at = NOW()
WHERE id = $1`, r.table)

	result, err := r.db.ExecContext(
		ctx,
		query,
		request.ID,
		string(request.Status),
		history,
		request.EstimatedCost,
		request.ActualCost,
		string(request.CostApproval),
		request.ResolutionSummary,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return servicing.ErrNotFound
	}
	request.UpdatedAt = time.Now().UTC()
	return nil
}

func marshalJSONColumns(request *servicing.Request) ([]byte, []byte, error) {
	categories := request.IssueCategories
	if categories == nil {
		categories = []servicing.IssueCategory{}
	}
	categoriesJSON, err := json.Marshal(categories)
	if err != nil {
		return nil, nil, err
	}
	history := request.StatusHistory
	if history == nil {
		history = []servicing.HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, nil, err
	}
	return categoriesJSON, historyJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*servicing.Request, error) {
	var request servicing.Request
	var categoriesJSON, historyJSON []byte
	var estimatedCost, actualCost sql.NullFloat64
	var approval, summary sql.NullString

	if err := row.Scan(
		&request.ID,
		&request.DeviceID,
		&request.OrganizationID,
		&request.AllocationID,
		&request.RequestType,
		&categoriesJSON,
		&request.Priority,
		&request.Status,
		&historyJSON,
		&request.WarrantyEligible,
		&estimatedCost,
		&actualCost,
		&approval,
		&summary,
		&request.CreatedAt,
		&request.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(categoriesJSON) > 0 {
		if err := json.Unmarshal(categoriesJSON, &request.IssueCategories); err != nil {
			return nil, err
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &request.StatusHistory); err != nil {
			return nil, err
		}
	}
	request.EstimatedCost = estimatedCost.Float64
	request.ActualCost = actualCost.Float64
	request.CostApproval = servicing.CostApproval(approval.String)
	request.ResolutionSummary = summary.String
	request.CreatedAt = request.CreatedAt.UTC()
	request.UpdatedAt = request.UpdatedAt.UTC()
	return &request, nil
}
