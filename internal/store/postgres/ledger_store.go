package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Rows are only
// ever inserted; entry_seq gives the total order that Latest and ListByUser
// rely on.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const ledgerCols = `id, user_id, delta, balance, reason, ref_type, ref_id, created_at`

// Append inserts a new ledger entry.
func (s *LedgerStore) Append(ctx context.Context, e domain.LedgerEntry) error {
	const query = `
		INSERT INTO ledger_entries (id, user_id, delta, balance, reason, ref_type, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.UserID, e.Delta, e.Balance, string(e.Reason), e.RefType, e.RefID, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: append ledger entry %s: %w", e.ID, err)
	}
	return nil
}

// Latest returns a user's most recent ledger entry, or ErrNotFound when the
// user has no entries yet.
func (s *LedgerStore) Latest(ctx context.Context, userID string) (domain.LedgerEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries
		 WHERE user_id = $1 ORDER BY entry_seq DESC LIMIT 1`, userID)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerEntry{}, domain.ErrNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("postgres: latest ledger entry for %s: %w", userID, err)
	}
	return e, nil
}

// ListByUser returns a user's entries, most recent first.
func (s *LedgerStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerCols + ` FROM ledger_entries
		WHERE user_id = $1 ORDER BY entry_seq DESC`
	args := []any{userID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries for %s: %w", userID, err)
	}
	defer rows.Close()

	return collectLedgerEntries(rows)
}

// ListByReference returns every entry referencing the given object, in append
// order.
func (s *LedgerStore) ListByReference(ctx context.Context, refType, refID string) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries
		 WHERE ref_type = $1 AND ref_id = $2 ORDER BY entry_seq`,
		refType, refID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries for %s/%s: %w", refType, refID, err)
	}
	defer rows.Close()

	return collectLedgerEntries(rows)
}

func scanLedgerEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var (
		e      domain.LedgerEntry
		reason string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Delta, &e.Balance, &reason, &e.RefType, &e.RefID, &e.CreatedAt)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Reason = domain.LedgerReason(reason)
	return e, nil
}

func collectLedgerEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ledger rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
