package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

// Schema creates the journal table. Monetary columns are NUMERIC for exact
// decimal precision; seq preserves insertion order.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT        NOT NULL UNIQUE,
	kind          TEXT        NOT NULL,
	position_id   TEXT        NOT NULL DEFAULT '',
	symbol        TEXT        NOT NULL DEFAULT '',
	direction     TEXT        NOT NULL DEFAULT '',
	leverage      INTEGER     NOT NULL DEFAULT 0,
	collateral    NUMERIC     NOT NULL DEFAULT 0,
	price         NUMERIC     NOT NULL DEFAULT 0,
	pnl           NUMERIC     NOT NULL DEFAULT 0,
	pnl_percent   NUMERIC     NOT NULL DEFAULT 0,
	balance_delta NUMERIC     NOT NULL DEFAULT 0,
	quest_id      TEXT        NOT NULL DEFAULT '',
	reward        BIGINT      NOT NULL DEFAULT 0,
	tick          BIGINT      NOT NULL DEFAULT 0,
	timestamp     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_position_idx ON ledger_entries (position_id);
`

const uniqueViolation = "23505"

const ledgerColumns = `id, kind, position_id, symbol, direction, leverage,
	collateral::TEXT, price::TEXT, pnl::TEXT, pnl_percent::TEXT, balance_delta::TEXT,
	quest_id, reward, tick, timestamp`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the journal table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate ledger_entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, kind, position_id, symbol, direction, leverage,
		     collateral, price, pnl, pnl_percent, balance_delta, quest_id, reward, tick, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6,
		     $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13, $14, $15)`,
		e.ID, string(e.Kind), e.PositionID, string(e.Symbol), string(e.Direction), e.Leverage,
		e.Collateral.String(), e.Price.String(), e.PnL.String(), e.PnLPercent.String(), e.BalanceDelta.String(),
		e.QuestID, e.Reward, int64(e.Tick), e.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
		}
		return fmt.Errorf("insert ledger entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, limit int) ([]model.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries ORDER BY seq DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByPosition(ctx context.Context, positionID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE position_id = $1 ORDER BY seq`, positionID)
	if err != nil {
		return nil, fmt.Errorf("get ledger entries for position %s: %w", positionID, err)
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetJournalStats(ctx context.Context) (*model.JournalStats, error) {
	var st model.JournalStats
	var realizedS, forfeitedS string

	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE kind = 'OPEN'),
			COUNT(*) FILTER (WHERE kind = 'CLOSE'),
			COUNT(*) FILTER (WHERE kind = 'LIQUIDATE'),
			COUNT(*) FILTER (WHERE kind = 'QUEST_REWARD'),
			COALESCE(SUM(pnl) FILTER (WHERE kind = 'CLOSE'), 0)::TEXT,
			COALESCE(SUM(collateral) FILTER (WHERE kind = 'LIQUIDATE'), 0)::TEXT,
			COALESCE(SUM(reward) FILTER (WHERE kind = 'QUEST_REWARD'), 0)::BIGINT
		 FROM ledger_entries`).
		Scan(&st.Opened, &st.Closed, &st.Liquidated, &st.QuestsCompleted,
			&realizedS, &forfeitedS, &st.EcoTokensEarned)
	if err != nil {
		return nil, fmt.Errorf("get journal stats: %w", err)
	}

	st.RealizedPnL, _ = decimal.NewFromString(realizedS)
	st.ForfeitedCollateral, _ = decimal.NewFromString(forfeitedS)
	return &st, nil
}

// pgxRows is the subset of pgx.Rows scanLedgerEntries needs.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind, symbol, direction string
		var collateralS, priceS, pnlS, pnlPctS, deltaS string
		var tick int64

		if err := rows.Scan(&e.ID, &kind, &e.PositionID, &symbol, &direction, &e.Leverage,
			&collateralS, &priceS, &pnlS, &pnlPctS, &deltaS,
			&e.QuestID, &e.Reward, &tick, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Kind = model.EntryKind(kind)
		e.Symbol = model.AssetSymbol(symbol)
		e.Direction = model.Direction(direction)
		e.Collateral, _ = decimal.NewFromString(collateralS)
		e.Price, _ = decimal.NewFromString(priceS)
		e.PnL, _ = decimal.NewFromString(pnlS)
		e.PnLPercent, _ = decimal.NewFromString(pnlPctS)
		e.BalanceDelta, _ = decimal.NewFromString(deltaS)
		e.Tick = uint64(tick)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
