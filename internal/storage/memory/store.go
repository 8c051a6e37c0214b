// Package memory is the in-process Repository binding used when no database
// is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"cardlottery/internal/models"
	"cardlottery/internal/storage"
)

type entry struct {
	lottery *models.Lottery
	version int64
	records []*models.DrawRecord
}

// Store keeps lotteries in a mutex-guarded map. Each lottery carries a
// version that UpdateLottery checks before committing.
type Store struct {
	mu        sync.RWMutex
	lotteries map[string]*entry
}

var _ storage.Repository = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		lotteries: make(map[string]*entry),
	}
}

func (s *Store) CreateLottery(ctx context.Context, lot *models.Lottery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lotteries[lot.ID] = &entry{lottery: lot.Clone()}
	return nil
}

func (s *Store) GetLottery(ctx context.Context, id string) (*models.Lottery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lotteries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.lottery.Clone(), nil
}

func (s *Store) ListLotteries(ctx context.Context, filter storage.LotteryFilter) ([]*models.Lottery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Lottery
	for _, e := range s.lotteries {
		if filter.Match(e.lottery) {
			result = append(result, e.lottery.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// snapshotLog answers participant lookups from the records captured with
// the snapshot.
type snapshotLog []*models.DrawRecord

func (l snapshotLog) HasParticipant(_ context.Context, participantID string) (bool, error) {
	for _, r := range l {
		if r.ParticipantID == participantID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateLottery(ctx context.Context, id string, fn storage.UpdateFunc) (*models.Lottery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.lotteries[id]
	if !ok {
		s.mu.RUnlock()
		return nil, storage.ErrNotFound
	}
	snapshot := e.lottery.Clone()
	version := e.version
	records := snapshotLog(append([]*models.DrawRecord(nil), e.records...))
	s.mu.RUnlock()

	record, err := fn(ctx, snapshot, records)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.lotteries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if current != e || current.version != version {
		return nil, storage.ErrConflict
	}
	current.lottery = snapshot.Clone()
	current.version++
	if record != nil {
		rec := *record
		current.records = append(current.records, &rec)
	}
	return snapshot, nil
}

func (s *Store) ListDrawRecords(ctx context.Context, lotteryID string, filter storage.DrawFilter) ([]*models.DrawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lotteries[lotteryID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var result []*models.DrawRecord
	for i := len(e.records) - 1; i >= 0; i-- {
		r := e.records[i]
		if filter.ParticipantID != "" && r.ParticipantID != filter.ParticipantID {
			continue
		}
		rec := *r
		result = append(result, &rec)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) DeleteLottery(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lotteries[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.lotteries, id)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
