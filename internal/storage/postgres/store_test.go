package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"cardlottery/internal/models"
	"cardlottery/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set LOTTERY_TEST_DATABASE_URL to run these against a disposable database.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("LOTTERY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LOTTERY_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newLottery() *models.Lottery {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Lottery{
		ID:         uuid.NewString(),
		CreatorID:  "creator-" + uuid.NewString(),
		Title:      "Postgres draw",
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
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func claim(participant string, slot int) storage.UpdateFunc {
	return func(ctx context.Context, lot *models.Lottery, log storage.DrawLog) (*models.DrawRecord, error) {
		lot.Slots[slot].Claimed = true
		lot.RemainingTotal--
		return &models.DrawRecord{
			ID:            uuid.NewString(),
			LotteryID:     lot.ID,
			ParticipantID: participant,
			SlotIndex:     slot,
			Outcome:       models.OutcomeLose,
			DrawnAt:       time.Now().UTC(),
		}, nil
	}
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	lot := newLottery()
	require.NoError(t, store.CreateLottery(ctx, lot))

	got, err := store.GetLottery(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.Slots, got.Slots)
	assert.Equal(t, lot.Inventory, got.Inventory)

	_, err = store.UpdateLottery(ctx, lot.ID, claim("p1", 0))
	require.NoError(t, err)

	// Same participant again: only the unique index can stop it here.
	_, err = store.UpdateLottery(ctx, lot.ID, claim("p1", 1))
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = store.UpdateLottery(ctx, lot.ID, func(ctx context.Context, l *models.Lottery, log storage.DrawLog) (*models.DrawRecord, error) {
		if _, err := store.UpdateLottery(ctx, lot.ID, claim("p2", 1)); err != nil {
			return nil, err
		}
		return claim("p3", 1)(ctx, l, log)
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	records, err := store.ListDrawRecords(ctx, lot.ID, storage.DrawFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p2", records[0].ParticipantID)

	mine, err := store.ListLotteries(ctx, storage.LotteryFilter{CreatorID: lot.CreatorID})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	require.NoError(t, store.DeleteLottery(ctx, lot.ID))
	_, err = store.GetLottery(ctx, lot.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.DeleteLottery(ctx, lot.ID), storage.ErrNotFound)
}
