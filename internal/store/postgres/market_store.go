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

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, title, creator_id, yes_shares, no_shares,
	liquidity_param, status, resolved_outcome, seq, close_at,
	created_at, updated_at`

// Insert stores a new market row.
func (s *MarketStore) Insert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, title, creator_id, yes_shares, no_shares,
			liquidity_param, status, resolved_outcome, seq, close_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Title, m.CreatorID, m.YesShares, m.NoShares,
		m.LiquidityParam, string(m.Status), outcomeText(m.ResolvedOutcome),
		m.Sequence, m.CloseAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets ordered by creation time, newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets ORDER BY created_at DESC, id`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// UpdateReserves replaces the reserve pools and bumps the sequence number in
// one statement. Callers hold the per-market lock, so the returned sequence
// is strictly monotonic per market.
func (s *MarketStore) UpdateReserves(ctx context.Context, id string, yes, no float64) (int64, error) {
	const query = `
		UPDATE markets
		SET yes_shares = $2, no_shares = $3, seq = seq + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING seq`

	var seq int64
	err := s.pool.QueryRow(ctx, query, id, yes, no).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: update reserves %s: %w", id, err)
	}
	return seq, nil
}

// UpdateStatus replaces the lifecycle status (and, for resolutions, the
// outcome) and bumps the sequence number.
func (s *MarketStore) UpdateStatus(ctx context.Context, id string, status domain.MarketStatus, outcome *domain.Side) (int64, error) {
	const query = `
		UPDATE markets
		SET status = $2, resolved_outcome = $3, seq = seq + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING seq`

	var seq int64
	err := s.pool.QueryRow(ctx, query, id, string(status), outcomeText(outcome)).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: update status %s: %w", id, err)
	}
	return seq, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m       domain.Market
		status  string
		outcome *string
	)
	err := row.Scan(
		&m.ID, &m.Title, &m.CreatorID, &m.YesShares, &m.NoShares,
		&m.LiquidityParam, &status, &outcome, &m.Sequence, &m.CloseAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if outcome != nil {
		side := domain.Side(*outcome)
		m.ResolvedOutcome = &side
	}
	return m, nil
}

// outcomeText converts an optional outcome to its nullable column value.
func outcomeText(outcome *domain.Side) *string {
	if outcome == nil {
		return nil
	}
	s := string(*outcome)
	return &s
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
