// Package postgres provides the PostgreSQL lottery repository built on a
// pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"cardlottery/internal/models"
	"cardlottery/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store is the PostgreSQL implementation of storage.Repository.
type Store struct {
	db *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

const lotteryColumns = `id, creator_id, creator_name, title, total_count, prize_tiers, slots, status,
		remaining_total, remaining_winners, remaining_per_tier, version, created_at, updated_at`

func (s *Store) CreateLottery(ctx context.Context, lot *models.Lottery) error {
	cols, err := storage.EncodeColumns(lot)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO lotteries (`+lotteryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13)`,
		lot.ID, lot.CreatorID, lot.CreatorName, lot.Title, lot.TotalCount,
		string(cols.PrizeTiers), string(cols.Slots), string(lot.Status),
		lot.RemainingTotal, lot.RemainingWinners, string(cols.RemainingPerTier),
		lot.CreatedAt, lot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lottery: %w", err)
	}
	return nil
}

func scanLottery(row pgx.Row) (*models.Lottery, int64, error) {
	var (
		lot     models.Lottery
		status  string
		cols    storage.Columns
		version int64
	)
	if err := row.Scan(
		&lot.ID, &lot.CreatorID, &lot.CreatorName, &lot.Title, &lot.TotalCount,
		&cols.PrizeTiers, &cols.Slots, &status, &lot.RemainingTotal, &lot.RemainingWinners,
		&cols.RemainingPerTier, &version, &lot.CreatedAt, &lot.UpdatedAt,
	); err != nil {
		return nil, 0, err
	}
	lot.Status = models.LotteryStatus(status)
	lot.CreatedAt = lot.CreatedAt.UTC()
	lot.UpdatedAt = lot.UpdatedAt.UTC()
	if err := storage.DecodeColumns(cols, &lot); err != nil {
		return nil, 0, err
	}
	return &lot, version, nil
}

func (s *Store) getLottery(ctx context.Context, id string) (*models.Lottery, int64, error) {
	row := s.db.QueryRow(ctx, `SELECT `+lotteryColumns+` FROM lotteries WHERE id = $1`, id)
	lot, version, err := scanLottery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, storage.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load lottery %s: %w", id, err)
	}
	return lot, version, nil
}

func (s *Store) GetLottery(ctx context.Context, id string) (*models.Lottery, error) {
	lot, _, err := s.getLottery(ctx, id)
	return lot, err
}

func (s *Store) ListLotteries(ctx context.Context, filter storage.LotteryFilter) ([]*models.Lottery, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+lotteryColumns+` FROM lotteries
		 WHERE ($1 = '' OR creator_id = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id`,
		filter.CreatorID, string(filter.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("list lotteries: %w", err)
	}
	defer rows.Close()

	var result []*models.Lottery
	for rows.Next() {
		lot, _, err := scanLottery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lottery: %w", err)
		}
		result = append(result, lot)
	}
	return result, rows.Err()
}

type participantLog struct {
	db        *pgxpool.Pool
	lotteryID string
}

func (l participantLog) HasParticipant(ctx context.Context, participantID string) (bool, error) {
	var exists bool
	err := l.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM draw_records WHERE lottery_id = $1 AND participant_id = $2)`,
		l.lotteryID, participantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup participant: %w", err)
	}
	return exists, nil
}

func (s *Store) UpdateLottery(ctx context.Context, id string, fn storage.UpdateFunc) (*models.Lottery, error) {
	lot, version, err := s.getLottery(ctx, id)
	if err != nil {
		return nil, err
	}
	record, err := fn(ctx, lot, participantLog{db: s.db, lotteryID: id})
	if err != nil {
		return nil, err
	}
	cols, err := storage.EncodeColumns(lot)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE lotteries
		 SET slots = $1, status = $2, remaining_total = $3, remaining_winners = $4,
		     remaining_per_tier = $5, updated_at = $6, version = version + 1
		 WHERE id = $7 AND version = $8`,
		string(cols.Slots), string(lot.Status), lot.RemainingTotal, lot.RemainingWinners,
		string(cols.RemainingPerTier), lot.UpdatedAt, id, version,
	)
	if err != nil {
		return nil, fmt.Errorf("update lottery %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrConflict
	}

	if record != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO draw_records (id, lottery_id, participant_id, nickname, slot_index, outcome, prize_name, drawn_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			record.ID, id, record.ParticipantID, record.Nickname, record.SlotIndex,
			string(record.Outcome), record.PrizeName, record.DrawnAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, storage.ErrConflict
		}
		if err != nil {
			return nil, fmt.Errorf("insert draw record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update of %s: %w", id, err)
	}
	return lot, nil
}

func (s *Store) ListDrawRecords(ctx context.Context, lotteryID string, filter storage.DrawFilter) ([]*models.DrawRecord, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lotteries WHERE id = $1)`, lotteryID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("load lottery %s: %w", lotteryID, err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, lottery_id, participant_id, nickname, slot_index, outcome, prize_name, drawn_at
		 FROM draw_records
		 WHERE lottery_id = $1 AND ($2 = '' OR participant_id = $2)
		 ORDER BY drawn_at DESC, seq DESC
		 LIMIT CASE WHEN $3::int < 0 THEN NULL ELSE $3::int END`,
		lotteryID, filter.ParticipantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list draw records: %w", err)
	}
	defer rows.Close()

	var result []*models.DrawRecord
	for rows.Next() {
		var (
			r       models.DrawRecord
			outcome string
		)
		if err := rows.Scan(&r.ID, &r.LotteryID, &r.ParticipantID, &r.Nickname, &r.SlotIndex, &outcome, &r.PrizeName, &r.DrawnAt); err != nil {
			return nil, fmt.Errorf("scan draw record: %w", err)
		}
		r.Outcome = models.Outcome(outcome)
		r.DrawnAt = r.DrawnAt.UTC()
		result = append(result, &r)
	}
	return result, rows.Err()
}

func (s *Store) DeleteLottery(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM draw_records WHERE lottery_id = $1`, id); err != nil {
		return fmt.Errorf("delete draw records of %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM lotteries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lottery %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return tx.Commit(ctx)
}
