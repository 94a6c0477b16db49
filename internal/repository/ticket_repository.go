package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/desk-kit/helpdesk-service/internal/domain"
)

// ErrAlreadyAssigned signals a lost claim race: the conditional update
// matched no row because a technician got there first.
var ErrAlreadyAssigned = errors.New("ticket already assigned")

// ErrNotClaimable signals the ticket exists unassigned but its status
// does not admit a claim.
var ErrNotClaimable = errors.New("ticket not claimable in its current status")

// ErrStaleStatus signals a guarded update that matched no row because
// the status moved between the caller's read and the write.
var ErrStaleStatus = errors.New("ticket status changed concurrently")

// TicketFilter captures listing parameters. A nil ClientID lists every
// ticket; visibility scoping is the service's responsibility.
type TicketFilter struct {
	ClientID    *string
	Statuses    []domain.TicketStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// TicketUpdate carries the column writes of a partial update. Nil
// leaves the column untouched. Technician assignment never flows
// through here; Claim is the only write path for technician_id.
type TicketUpdate struct {
	Title       *string
	Description *string
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	Category    *string
	// ExpectedStatus guards the write when Status is set: the update
	// matches only while the row still holds the status the caller
	// validated the transition against.
	ExpectedStatus domain.TicketStatus
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, id string, update TicketUpdate) (*domain.Ticket, error)
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Claim(ctx context.Context, ticketID, technicianID string) (*domain.Ticket, error)
	Delete(ctx context.Context, id string) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, category, client_id, technician_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Category,
		ticket.ClientID,
		ticket.TechnicianID,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

// Update writes only the columns the patch touched. When a status
// change is carried, the WHERE clause pins the row to ExpectedStatus so
// a stale read can never smuggle an unvalidated transition past the
// guard.
func (r *ticketRepository) Update(ctx context.Context, id string, update TicketUpdate) (*domain.Ticket, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{}

	if update.Title != nil {
		args = append(args, *update.Title)
		sets = append(sets, fmt.Sprintf("title=$%d", len(args)))
	}
	if update.Description != nil {
		args = append(args, *update.Description)
		sets = append(sets, fmt.Sprintf("description=$%d", len(args)))
	}
	if update.Status != nil {
		args = append(args, *update.Status)
		sets = append(sets, fmt.Sprintf("status=$%d", len(args)))
	}
	if update.Priority != nil {
		args = append(args, *update.Priority)
		sets = append(sets, fmt.Sprintf("priority=$%d", len(args)))
	}
	if update.Category != nil {
		args = append(args, *update.Category)
		sets = append(sets, fmt.Sprintf("category=$%d", len(args)))
	}

	args = append(args, id)
	clauses := []string{fmt.Sprintf("id=$%d", len(args))}
	if update.Status != nil {
		args = append(args, update.ExpectedStatus)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}

	query := fmt.Sprintf(`
        UPDATE tickets SET %s
        WHERE %s
        RETURNING id, title, description, status, priority, category, client_id, technician_id,
                  created_at, updated_at`,
		strings.Join(sets, ", "), strings.Join(clauses, " AND "))

	var ticket domain.Ticket
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Category,
		&ticket.ClientID,
		&ticket.TechnicianID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		if update.Status == nil {
			return nil, pgx.ErrNoRows
		}
		// Guarded write matched nothing: row gone or status moved.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStaleStatus
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT id, title, description, status, priority, category, client_id, technician_id,
               created_at, updated_at
        FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Category,
		&ticket.ClientID,
		&ticket.TechnicianID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT id, title, description, status, priority, category, client_id, technician_id,
                    created_at, updated_at
             FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.ClientID != nil {
		args = append(args, *filter.ClientID)
		clauses = append(clauses, fmt.Sprintf("client_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	// created_at DESC ordering is a user-facing contract.
	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

// Claim assigns a technician and moves the ticket to in_progress in one
// conditional update. The WHERE clause serializes concurrent claims at
// the store: at most one caller matches the row.
func (r *ticketRepository) Claim(ctx context.Context, ticketID, technicianID string) (*domain.Ticket, error) {
	const query = `
        UPDATE tickets SET technician_id=$1, status='in_progress', updated_at=NOW()
        WHERE id=$2 AND technician_id IS NULL AND status IN ('open', 'reopened')
        RETURNING id, title, description, status, priority, category, client_id, technician_id,
                  created_at, updated_at`
	var ticket domain.Ticket
	err := r.pool.QueryRow(ctx, query, technicianID, ticketID).Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Category,
		&ticket.ClientID,
		&ticket.TechnicianID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing ticket, a lost race, and a ticket
		// whose status simply does not admit claims.
		current, getErr := r.GetByID(ctx, ticketID)
		if getErr != nil {
			return nil, getErr
		}
		if current.TechnicianID == nil {
			return nil, ErrNotClaimable
		}
		return nil, ErrAlreadyAssigned
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.Title,
			&ticket.Description,
			&ticket.Status,
			&ticket.Priority,
			&ticket.Category,
			&ticket.ClientID,
			&ticket.TechnicianID,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
