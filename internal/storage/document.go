package storage

import (
	"encoding/json"
	"fmt"

	"cardlottery/internal/models"
)

// Columns is the column form of the JSON-encoded parts of a lottery shared
// by the SQL bindings.
type Columns struct {
	PrizeTiers       []byte
	Slots            []byte
	RemainingPerTier []byte
}

// EncodeColumns marshals the nested parts of lot.
func EncodeColumns(lot *models.Lottery) (Columns, error) {
	var cols Columns
	var err error
	if cols.PrizeTiers, err = json.Marshal(lot.PrizeTiers); err != nil {
		return Columns{}, fmt.Errorf("encode prize tiers: %w", err)
	}
	if cols.Slots, err = json.Marshal(lot.Slots); err != nil {
		return Columns{}, fmt.Errorf("encode slots: %w", err)
	}
	if cols.RemainingPerTier, err = json.Marshal(lot.RemainingPerTier); err != nil {
		return Columns{}, fmt.Errorf("encode tier inventory: %w", err)
	}
	return cols, nil
}

// DecodeColumns fills the nested parts of lot and rejects slots whose kind
// is unknown.
func DecodeColumns(cols Columns, lot *models.Lottery) error {
	if err := json.Unmarshal(cols.PrizeTiers, &lot.PrizeTiers); err != nil {
		return fmt.Errorf("decode prize tiers of %s: %w", lot.ID, err)
	}
	if err := json.Unmarshal(cols.Slots, &lot.Slots); err != nil {
		return fmt.Errorf("decode slots of %s: %w", lot.ID, err)
	}
	if err := json.Unmarshal(cols.RemainingPerTier, &lot.RemainingPerTier); err != nil {
		return fmt.Errorf("decode tier inventory of %s: %w", lot.ID, err)
	}
	for i, s := range lot.Slots {
		if s.Kind != models.SlotPrize && s.Kind != models.SlotBlank {
			return fmt.Errorf("lottery %s slot %d has unknown kind %q", lot.ID, i, s.Kind)
		}
	}
	return nil
}
