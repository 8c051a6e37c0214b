// Package sqlite provides a SQLite-backed lottery repository. Optimistic
// concurrency uses a per-lottery version column.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cardlottery/internal/models"
	"cardlottery/internal/storage"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// Store persists lotteries and draw records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Repository = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite database file and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single connection: concurrent lock upgrades would fail with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// New wraps an already prepared database handle.
func New(sqlDB *sql.DB) *Store {
	return &Store{sqlDB: sqlDB}
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const lotteryColumns = `id, creator_id, creator_name, title, total_count, prize_tiers, slots, status,
		remaining_total, remaining_winners, remaining_per_tier, version, created_at, updated_at`

func (s *Store) CreateLottery(ctx context.Context, lot *models.Lottery) error {
	cols, err := storage.EncodeColumns(lot)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO lotteries (`+lotteryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		lot.ID, lot.CreatorID, lot.CreatorName, lot.Title, lot.TotalCount,
		string(cols.PrizeTiers), string(cols.Slots), string(lot.Status),
		lot.RemainingTotal, lot.RemainingWinners, string(cols.RemainingPerTier),
		toMillis(lot.CreatedAt), toMillis(lot.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert lottery: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLottery(row rowScanner) (*models.Lottery, int64, error) {
	var (
		lot                       models.Lottery
		status                    string
		tiers, slots, perTier     string
		version, created, updated int64
	)
	if err := row.Scan(
		&lot.ID, &lot.CreatorID, &lot.CreatorName, &lot.Title, &lot.TotalCount,
		&tiers, &slots, &status, &lot.RemainingTotal, &lot.RemainingWinners, &perTier,
		&version, &created, &updated,
	); err != nil {
		return nil, 0, err
	}
	lot.Status = models.LotteryStatus(status)
	lot.CreatedAt = fromMillis(created)
	lot.UpdatedAt = fromMillis(updated)
	cols := storage.Columns{PrizeTiers: []byte(tiers), Slots: []byte(slots), RemainingPerTier: []byte(perTier)}
	if err := storage.DecodeColumns(cols, &lot); err != nil {
		return nil, 0, err
	}
	return &lot, version, nil
}

func (s *Store) getLottery(ctx context.Context, id string) (*models.Lottery, int64, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+lotteryColumns+` FROM lotteries WHERE id = ?`, id)
	lot, version, err := scanLottery(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	query := `SELECT ` + lotteryColumns + ` FROM lotteries WHERE 1 = 1`
	var args []any
	if filter.CreatorID != "" {
		query += ` AND creator_id = ?`
		args = append(args, filter.CreatorID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
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

// participantLog looks up draw records directly. Any record committed after
// the snapshot was read also bumped the lottery version, so a stale answer
// here always ends in ErrConflict rather than a wrong commit.
type participantLog struct {
	sqlDB     *sql.DB
	lotteryID string
}

func (l participantLog) HasParticipant(ctx context.Context, participantID string) (bool, error) {
	var one int
	err := l.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM draw_records WHERE lottery_id = ? AND participant_id = ? LIMIT 1`,
		l.lotteryID, participantID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup participant: %w", err)
	}
	return true, nil
}

func (s *Store) UpdateLottery(ctx context.Context, id string, fn storage.UpdateFunc) (*models.Lottery, error) {
	lot, version, err := s.getLottery(ctx, id)
	if err != nil {
		return nil, err
	}
	record, err := fn(ctx, lot, participantLog{sqlDB: s.sqlDB, lotteryID: id})
	if err != nil {
		return nil, err
	}
	cols, err := storage.EncodeColumns(lot)
	if err != nil {
		return nil, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE lotteries
		 SET slots = ?, status = ?, remaining_total = ?, remaining_winners = ?,
		     remaining_per_tier = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(cols.Slots), string(lot.Status), lot.RemainingTotal, lot.RemainingWinners,
		string(cols.RemainingPerTier), toMillis(lot.UpdatedAt), id, version,
	)
	if err != nil {
		return nil, fmt.Errorf("update lottery %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update lottery %s: %w", id, err)
	}
	if affected == 0 {
		return nil, storage.ErrConflict
	}

	if record != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO draw_records (id, lottery_id, participant_id, nickname, slot_index, outcome, prize_name, drawn_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID, id, record.ParticipantID, record.Nickname, record.SlotIndex,
			string(record.Outcome), record.PrizeName, toMillis(record.DrawnAt),
		)
		if isUniqueViolation(err) {
			return nil, storage.ErrConflict
		}
		if err != nil {
			return nil, fmt.Errorf("insert draw record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update of %s: %w", id, err)
	}
	return lot, nil
}

func (s *Store) ListDrawRecords(ctx context.Context, lotteryID string, filter storage.DrawFilter) ([]*models.DrawRecord, error) {
	var exists int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM lotteries WHERE id = ?`, lotteryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load lottery %s: %w", lotteryID, err)
	}

	query := `SELECT id, lottery_id, participant_id, nickname, slot_index, outcome, prize_name, drawn_at
		FROM draw_records WHERE lottery_id = ?`
	args := []any{lotteryID}
	if filter.ParticipantID != "" {
		query += ` AND participant_id = ?`
		args = append(args, filter.ParticipantID)
	}
	query += ` ORDER BY drawn_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list draw records: %w", err)
	}
	defer rows.Close()

	var result []*models.DrawRecord
	for rows.Next() {
		var (
			r       models.DrawRecord
			outcome string
			drawnAt int64
		)
		if err := rows.Scan(&r.ID, &r.LotteryID, &r.ParticipantID, &r.Nickname, &r.SlotIndex, &outcome, &r.PrizeName, &drawnAt); err != nil {
			return nil, fmt.Errorf("scan draw record: %w", err)
		}
		r.Outcome = models.Outcome(outcome)
		r.DrawnAt = fromMillis(drawnAt)
		result = append(result, &r)
	}
	return result, rows.Err()
}

func (s *Store) DeleteLottery(ctx context.Context, id string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM draw_records WHERE lottery_id = ?`, id); err != nil {
		return fmt.Errorf("delete draw records of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM lotteries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lottery %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
