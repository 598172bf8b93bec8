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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, user_id, market_id, side, shares, points_spent, created_at`

// Insert stores a new position row.
func (s *PositionStore) Insert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (id, user_id, market_id, side, shares, points_spent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.MarketID, string(p.Side), p.Shares, p.PointsSpent, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a position by its primary key.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByMarket returns every position on a market, oldest first.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 ORDER BY created_at, id`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %s: %w", marketID, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListByUser returns a user's positions, oldest first, optionally restricted
// to one market. The market filter is part of the WHERE clause, so pagination
// applies to the filtered set.
func (s *PositionStore) ListByUser(ctx context.Context, userID, marketID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if marketID != "" {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, marketID)
		argIdx++
	}
	query += " ORDER BY created_at, id"

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
		return nil, fmt.Errorf("postgres: list positions for user %s: %w", userID, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// UpdateAmounts replaces the share quantity and cost basis of a position.
func (s *PositionStore) UpdateAmounts(ctx context.Context, id string, shares, pointsSpent float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET shares = $2, points_spent = $3 WHERE id = $1`,
		id, shares, pointsSpent)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p    domain.Position
		side string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &side, &p.Shares, &p.PointsSpent, &p.CreatedAt)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: position rows: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
