package services

import (
	"errors"
	"testing"

	"cardlottery/internal/models"
)

// noSwap makes Fisher-Yates pick j == i every time, leaving tier order intact.
type noSwap struct{}

func (noSwap) IntN(n int) int { return n - 1 }

func TestGenerateSlots(t *testing.T) {
	tiers := []models.PrizeTier{{Name: "A", Count: 1}, {Name: "B", Count: 2}}

	t.Run("pool composition", func(t *testing.T) {
		for run := 0; run < 50; run++ {
			slots := GenerateSlots(10, tiers, nil)
			if len(slots) != 10 {
				t.Fatalf("Expected 10 slots, got %d", len(slots))
			}
			counts := map[string]int{}
			for i, s := range slots {
				if s.Claimed || s.ClaimedBy != nil {
					t.Fatalf("Slot %d is claimed in a fresh pool", i)
				}
				if s.IsPrize() {
					counts[s.PrizeName]++
					if tiers[s.TierIndex].Name != s.PrizeName {
						t.Errorf("Slot %d has tier %d but prize %q", i, s.TierIndex, s.PrizeName)
					}
				} else {
					counts[""]++
					if s.TierIndex != -1 {
						t.Errorf("Blank slot %d has tier index %d", i, s.TierIndex)
					}
				}
			}
			if counts["A"] != 1 || counts["B"] != 2 || counts[""] != 7 {
				t.Fatalf("Unexpected composition %v", counts)
			}
		}
	})

	t.Run("tier order before shuffle", func(t *testing.T) {
		slots := GenerateSlots(5, tiers, noSwap{})
		want := []string{"A", "B", "B", "", ""}
		for i, name := range want {
			if slots[i].PrizeName != name {
				t.Errorf("Slot %d: expected %q, got %q", i, name, slots[i].PrizeName)
			}
		}
	})

	t.Run("all prizes", func(t *testing.T) {
		slots := GenerateSlots(3, []models.PrizeTier{{Name: "A", Count: 3}}, nil)
		for i, s := range slots {
			if !s.IsPrize() {
				t.Errorf("Slot %d should be a prize", i)
			}
		}
	})

	t.Run("prize position is uniform", func(t *testing.T) {
		const (
			size = 4
			runs = 20000
		)
		var hits [size]int
		for run := 0; run < runs; run++ {
			slots := GenerateSlots(size, []models.PrizeTier{{Name: "A", Count: 1}}, nil)
			for i, s := range slots {
				if s.IsPrize() {
					hits[i]++
				}
			}
		}
		// Expected 5000 per position; the bounds are many standard deviations wide.
		for i, n := range hits {
			if n < 4400 || n > 5600 {
				t.Errorf("Position %d won %d of %d times", i, n, runs)
			}
		}
	})
}

func TestSummarize(t *testing.T) {
	tiers := []models.PrizeTier{{Name: "A", Count: 1}, {Name: "B", Count: 2}}
	slots := GenerateSlots(5, tiers, noSwap{})

	inv := Summarize(slots, tiers)
	if inv.RemainingTotal != 5 || inv.RemainingWinners != 3 {
		t.Fatalf("Expected 5/3 remaining, got %d/%d", inv.RemainingTotal, inv.RemainingWinners)
	}

	slots[0].Claimed = true // A
	slots[3].Claimed = true // blank
	inv = Summarize(slots, tiers)
	if inv.RemainingTotal != 3 || inv.RemainingWinners != 2 {
		t.Fatalf("Expected 3/2 remaining, got %d/%d", inv.RemainingTotal, inv.RemainingWinners)
	}
	if inv.RemainingPerTier[0].Remaining != 0 || inv.RemainingPerTier[1].Remaining != 2 {
		t.Errorf("Unexpected per-tier summary %+v", inv.RemainingPerTier)
	}
	if inv.RemainingPerTier[1].Count != 2 || inv.RemainingPerTier[1].Name != "B" {
		t.Errorf("Tier summary lost its configuration: %+v", inv.RemainingPerTier[1])
	}
}

func TestVerifyInventory(t *testing.T) {
	newLottery := func() *models.Lottery {
		tiers := []models.PrizeTier{{Name: "A", Count: 1}}
		slots := GenerateSlots(3, tiers, noSwap{})
		return &models.Lottery{
			ID:         "lot",
			TotalCount: 3,
			PrizeTiers: tiers,
			Slots:      slots,
			Status:     models.StatusActive,
			Inventory:  Summarize(slots, tiers),
		}
	}

	if err := VerifyInventory(newLottery()); err != nil {
		t.Fatalf("Expected a consistent lottery, got %v", err)
	}

	tests := []struct {
		name    string
		corrupt func(*models.Lottery)
	}{
		{"remaining total", func(l *models.Lottery) { l.RemainingTotal-- }},
		{"remaining winners", func(l *models.Lottery) { l.RemainingWinners = 0 }},
		{"per tier", func(l *models.Lottery) { l.RemainingPerTier[0].Remaining = 5 }},
		{"slot count", func(l *models.Lottery) { l.Slots = l.Slots[:2] }},
		{"completed early", func(l *models.Lottery) { l.Status = models.StatusCompleted }},
		{"active with no slots left", func(l *models.Lottery) {
			for i := range l.Slots {
				l.Slots[i].Claimed = true
			}
			l.Inventory = Summarize(l.Slots, l.PrizeTiers)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lot := newLottery()
			tt.corrupt(lot)
			if err := VerifyInventory(lot); !errors.Is(err, ErrInventoryDrift) {
				t.Errorf("Expected ErrInventoryDrift, got %v", err)
			}
		})
	}
}
