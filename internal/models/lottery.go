package models

import "time"

// SlotKind tells whether a slot hides a prize or nothing.
type SlotKind string

const (
	SlotPrize SlotKind = "prize"
	SlotBlank SlotKind = "blank"
)

// LotteryStatus is the lifecycle state of a lottery.
type LotteryStatus string

const (
	StatusActive    LotteryStatus = "active"
	StatusCompleted LotteryStatus = "completed"
)

// Outcome is the result of a single draw.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
)

// PrizeTier is one prize category. Its rank is its position in the
// lottery's tier list.
type PrizeTier struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Claim identifies who opened a slot.
type Claim struct {
	ParticipantID string    `json:"participantId"`
	Nickname      string    `json:"nickname,omitempty"`
	ClaimedAt     time.Time `json:"claimedAt"`
}

// Slot is one card of the pool. Kind, TierIndex and PrizeName are fixed at
// generation time; only Claimed and ClaimedBy ever change.
type Slot struct {
	Kind      SlotKind `json:"kind"`
	TierIndex int      `json:"tierIndex"` // -1 for blank slots
	PrizeName string   `json:"prizeName,omitempty"`
	Claimed   bool     `json:"claimed"`
	ClaimedBy *Claim   `json:"claimedBy,omitempty"`
}

// IsPrize reports whether the slot holds a prize.
func (s Slot) IsPrize() bool {
	switch s.Kind {
	case SlotPrize:
		return true
	case SlotBlank:
		return false
	default:
		panic("models: unknown slot kind " + string(s.Kind))
	}
}

// TierRemaining pairs a prize tier with its unclaimed count.
type TierRemaining struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Remaining int    `json:"remaining"`
}

// Inventory is the denormalized summary of a slot array.
type Inventory struct {
	RemainingTotal   int             `json:"remainingTotal"`
	RemainingWinners int             `json:"remainingWinners"`
	RemainingPerTier []TierRemaining `json:"remainingPerTier"`
}

// Lottery is the aggregate root: a fixed, shuffled pool of slots plus the
// inventory derived from it.
type Lottery struct {
	ID          string        `json:"id"`
	CreatorID   string        `json:"creatorId"`
	CreatorName string        `json:"creatorName,omitempty"`
	Title       string        `json:"title"`
	TotalCount  int           `json:"totalCount"`
	PrizeTiers  []PrizeTier   `json:"prizeTiers"`
	Slots       []Slot        `json:"slots"`
	Status      LotteryStatus `json:"status"`
	Inventory
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so a snapshot can be mutated without touching
// the stored document.
func (l *Lottery) Clone() *Lottery {
	if l == nil {
		return nil
	}
	c := *l
	c.PrizeTiers = append([]PrizeTier(nil), l.PrizeTiers...)
	c.RemainingPerTier = append([]TierRemaining(nil), l.RemainingPerTier...)
	c.Slots = make([]Slot, len(l.Slots))
	for i, s := range l.Slots {
		if s.ClaimedBy != nil {
			claim := *s.ClaimedBy
			s.ClaimedBy = &claim
		}
		c.Slots[i] = s
	}
	return &c
}

// DrawRecord is the append-only audit entry for one successful claim.
type DrawRecord struct {
	ID            string    `json:"id"`
	LotteryID     string    `json:"lotteryId"`
	ParticipantID string    `json:"participantId"`
	Nickname      string    `json:"nickname"`
	SlotIndex     int       `json:"slotIndex"`
	Outcome       Outcome   `json:"outcome"`
	PrizeName     string    `json:"prizeName,omitempty"`
	DrawnAt       time.Time `json:"drawnAt"`
}

// DrawResult is what a participant learns after a successful draw.
type DrawResult struct {
	LotteryID  string  `json:"lotteryId"`
	SlotIndex  int     `json:"slotIndex"`
	Outcome    Outcome `json:"outcome"`
	PrizeName  string  `json:"prizeName,omitempty"`
	PrizeIndex *int    `json:"prizeIndex,omitempty"`
	Completed  bool    `json:"completed"`
}
