package memory

import (
	"context"
	"testing"
	"time"

	"cardlottery/internal/models"
	"cardlottery/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLottery(id, creator string, created time.Time) *models.Lottery {
	return &models.Lottery{
		ID:         id,
		CreatorID:  creator,
		Title:      "Draw " + id,
		TotalCount: 2,
		PrizeTiers: []models.PrizeTier{{Name: "A", Count: 1}},
		Slots: []models.Slot{
			{Kind: models.SlotPrize, TierIndex: 0, PrizeName: "A"},
			{Kind: models.SlotBlank, TierIndex: -1},
		},
		Status: models.StatusActive,
		Inventory: models.Inventory{
			RemainingTotal:   2,
			RemainingWinners: 1,
			RemainingPerTier: []models.TierRemaining{{Name: "A", Count: 1, Remaining: 1}},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func claim(participant string, slot int) storage.UpdateFunc {
	return func(ctx context.Context, lot *models.Lottery, log storage.DrawLog) (*models.DrawRecord, error) {
		lot.Slots[slot].Claimed = true
		lot.RemainingTotal--
		return &models.DrawRecord{ID: participant + "-rec", LotteryID: lot.ID, ParticipantID: participant, SlotIndex: slot, Outcome: models.OutcomeLose}, nil
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	lot := newLottery("l1", "c1", time.Now())
	require.NoError(t, s.CreateLottery(ctx, lot))

	got, err := s.GetLottery(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, lot.Title, got.Title)

	got.Slots[0].Claimed = true
	again, _ := s.GetLottery(ctx, "l1")
	assert.False(t, again.Slots[0].Claimed, "returned lotteries must be copies")

	_, err = s.GetLottery(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_UpdateLottery(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateLottery(ctx, newLottery("l1", "c1", time.Now())))

	updated, err := s.UpdateLottery(ctx, "l1", claim("p1", 1))
	require.NoError(t, err)
	assert.True(t, updated.Slots[1].Claimed)

	var seen bool
	_, err = s.UpdateLottery(ctx, "l1", func(ctx context.Context, lot *models.Lottery, log storage.DrawLog) (*models.DrawRecord, error) {
		var lookupErr error
		seen, lookupErr = log.HasParticipant(ctx, "p1")
		return nil, lookupErr
	})
	require.NoError(t, err)
	assert.True(t, seen)

	records, err := s.ListDrawRecords(ctx, "l1", storage.DrawFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].ParticipantID)

	_, err = s.UpdateLottery(ctx, "missing", claim("p1", 0))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_UpdateLotteryConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateLottery(ctx, newLottery("l1", "c1", time.Now())))

	_, err := s.UpdateLottery(ctx, "l1", func(ctx context.Context, lot *models.Lottery, log storage.DrawLog) (*models.DrawRecord, error) {
		// Another writer commits while this snapshot is being worked on.
		if _, err := s.UpdateLottery(ctx, "l1", claim("p2", 1)); err != nil {
			return nil, err
		}
		return claim("p1", 0)(ctx, lot, log)
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	got, _ := s.GetLottery(ctx, "l1")
	assert.False(t, got.Slots[0].Claimed)
	assert.True(t, got.Slots[1].Claimed)

	records, _ := s.ListDrawRecords(ctx, "l1", storage.DrawFilter{})
	require.Len(t, records, 1)
	assert.Equal(t, "p2", records[0].ParticipantID)
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()
	require.NoError(t, s.CreateLottery(ctx, newLottery("old", "c1", base)))
	require.NoError(t, s.CreateLottery(ctx, newLottery("new", "c1", base.Add(time.Minute))))
	require.NoError(t, s.CreateLottery(ctx, newLottery("other", "c2", base.Add(2*time.Minute))))

	lots, err := s.ListLotteries(ctx, storage.LotteryFilter{CreatorID: "c1"})
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, "new", lots[0].ID)
	assert.Equal(t, "old", lots[1].ID)

	_, err = s.UpdateLottery(ctx, "old", claim("p1", 0))
	require.NoError(t, err)
	_, err = s.UpdateLottery(ctx, "old", claim("p2", 1))
	require.NoError(t, err)

	records, err := s.ListDrawRecords(ctx, "old", storage.DrawFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p2", records[0].ParticipantID)

	records, _ = s.ListDrawRecords(ctx, "old", storage.DrawFilter{ParticipantID: "p1"})
	require.Len(t, records, 1)

	require.NoError(t, s.DeleteLottery(ctx, "old"))
	assert.ErrorIs(t, s.DeleteLottery(ctx, "old"), storage.ErrNotFound)
	_, err = s.ListDrawRecords(ctx, "old", storage.DrawFilter{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
