// Package storage defines the persistence contract for lotteries and their
// draw logs. Every binding offers the same optimistic read-modify-write
// primitive so draw logic never depends on which store is behind it.
package storage

import (
	"context"
	"errors"

	"cardlottery/internal/models"
)

var (
	// ErrNotFound is returned when no lottery has the requested id.
	ErrNotFound = errors.New("lottery not found")
	// ErrConflict is returned when the lottery changed between the snapshot
	// read and the conditioned write. Callers may retry with a fresh read.
	ErrConflict = errors.New("concurrent modification")
)

// DrawLog answers questions about a lottery's draw records as of the
// snapshot an UpdateFunc is working on.
type DrawLog interface {
	HasParticipant(ctx context.Context, participantID string) (bool, error)
}

// UpdateFunc computes the next state of a lottery. It mutates lot in place
// and returns the draw record to append in the same atomic unit, or nil to
// append nothing. Returning an error aborts the update without writing.
type UpdateFunc func(ctx context.Context, lot *models.Lottery, log DrawLog) (*models.DrawRecord, error)

// LotteryFilter narrows ListLotteries. Empty fields match everything.
type LotteryFilter struct {
	CreatorID string
	Status    models.LotteryStatus
}

// Match reports whether lot passes the filter.
func (f LotteryFilter) Match(lot *models.Lottery) bool {
	if f.CreatorID != "" && lot.CreatorID != f.CreatorID {
		return false
	}
	if f.Status != "" && lot.Status != f.Status {
		return false
	}
	return true
}

// DrawFilter narrows ListDrawRecords.
type DrawFilter struct {
	ParticipantID string
	Limit         int
}

// Repository persists the lottery aggregate and its append-only draw log.
type Repository interface {
	CreateLottery(ctx context.Context, lot *models.Lottery) error
	GetLottery(ctx context.Context, id string) (*models.Lottery, error)
	// ListLotteries returns matching lotteries, newest first.
	ListLotteries(ctx context.Context, filter LotteryFilter) ([]*models.Lottery, error)
	// UpdateLottery makes a single optimistic attempt: it snapshots the
	// lottery, runs fn, and commits the new document plus the returned
	// record only if nothing else changed the lottery meanwhile. Otherwise
	// it returns ErrConflict and nothing is written.
	UpdateLottery(ctx context.Context, id string, fn UpdateFunc) (*models.Lottery, error)
	// ListDrawRecords returns records newest first.
	ListDrawRecords(ctx context.Context, lotteryID string, filter DrawFilter) ([]*models.DrawRecord, error)
	// DeleteLottery removes a lottery together with its draw log.
	DeleteLottery(ctx context.Context, id string) error
	Close() error
}
