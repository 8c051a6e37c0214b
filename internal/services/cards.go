package services

import (
	"fmt"
	"math/rand/v2"

	"cardlottery/internal/models"
)

// RandomSource yields uniform integers in [0, n).
type RandomSource interface {
	IntN(n int) int
}

type defaultSource struct{}

func (defaultSource) IntN(n int) int { return rand.IntN(n) }

// DefaultRandom draws from the runtime's auto-seeded generator and is safe
// for concurrent use.
var DefaultRandom RandomSource = defaultSource{}

// GenerateSlots builds the shuffled card pool: tiers[i].Count prize slots
// for each tier, in tier order, padded with blanks up to totalCount, then
// permuted with Fisher-Yates so every arrangement is equally likely.
// Callers validate totalCount and the tier counts beforehand.
func GenerateSlots(totalCount int, tiers []models.PrizeTier, rnd RandomSource) []models.Slot {
	if rnd == nil {
		rnd = DefaultRandom
	}

	slots := make([]models.Slot, 0, totalCount)
	for i, tier := range tiers {
		for n := 0; n < tier.Count; n++ {
			slots = append(slots, models.Slot{
				Kind:      models.SlotPrize,
				TierIndex: i,
				PrizeName: tier.Name,
			})
		}
	}
	for len(slots) < totalCount {
		slots = append(slots, models.Slot{Kind: models.SlotBlank, TierIndex: -1})
	}

	for i := len(slots) - 1; i > 0; i-- {
		j := rnd.IntN(i + 1)
		slots[i], slots[j] = slots[j], slots[i]
	}
	return slots
}

// Summarize recomputes the inventory of a slot array from scratch.
func Summarize(slots []models.Slot, tiers []models.PrizeTier) models.Inventory {
	inv := models.Inventory{
		RemainingPerTier: make([]models.TierRemaining, len(tiers)),
	}
	for i, tier := range tiers {
		inv.RemainingPerTier[i] = models.TierRemaining{Name: tier.Name, Count: tier.Count}
	}

	for _, slot := range slots {
		if slot.Claimed {
			continue
		}
		inv.RemainingTotal++
		if !slot.IsPrize() {
			continue
		}
		inv.RemainingWinners++
		if slot.TierIndex >= 0 && slot.TierIndex < len(tiers) {
			inv.RemainingPerTier[slot.TierIndex].Remaining++
		}
	}
	return inv
}

// VerifyInventory checks the stored aggregate and status of lot against a
// fresh recount of its slots. A mismatch means the document was written
// outside the draw path and is reported as ErrInventoryDrift.
func VerifyInventory(lot *models.Lottery) error {
	if len(lot.Slots) != lot.TotalCount {
		return fmt.Errorf("%w: lottery %s has %d slots, want %d", ErrInventoryDrift, lot.ID, len(lot.Slots), lot.TotalCount)
	}
	want := Summarize(lot.Slots, lot.PrizeTiers)
	if want.RemainingTotal != lot.RemainingTotal || want.RemainingWinners != lot.RemainingWinners {
		return fmt.Errorf("%w: lottery %s stores remaining %d/%d, slots say %d/%d",
			ErrInventoryDrift, lot.ID, lot.RemainingTotal, lot.RemainingWinners, want.RemainingTotal, want.RemainingWinners)
	}
	if len(want.RemainingPerTier) != len(lot.RemainingPerTier) {
		return fmt.Errorf("%w: lottery %s tier summary length mismatch", ErrInventoryDrift, lot.ID)
	}
	for i := range want.RemainingPerTier {
		if want.RemainingPerTier[i].Remaining != lot.RemainingPerTier[i].Remaining {
			return fmt.Errorf("%w: lottery %s tier %q stores %d remaining, slots say %d",
				ErrInventoryDrift, lot.ID, want.RemainingPerTier[i].Name, lot.RemainingPerTier[i].Remaining, want.RemainingPerTier[i].Remaining)
		}
	}
	if (lot.Status == models.StatusCompleted) != (want.RemainingTotal == 0) {
		return fmt.Errorf("%w: lottery %s is %s with %d slots left", ErrInventoryDrift, lot.ID, lot.Status, want.RemainingTotal)
	}
	return nil
}
