package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cardlottery/internal/events"
	"cardlottery/internal/metrics"
	"cardlottery/internal/models"
	"cardlottery/internal/storage"

	"github.com/google/logger"
	"github.com/google/uuid"
)

const (
	// DefaultMaxAttempts bounds how often a draw is retried after losing an
	// optimistic-concurrency race.
	DefaultMaxAttempts = 5
	// MaxTotalCount caps the pool size so one lottery stays one document.
	MaxTotalCount = 10000
	// DefaultNickname is shown for participants who gave no name.
	DefaultNickname = "anonymous"

	publishTimeout = 5 * time.Second
)

// CreateLotteryInput is the organizer's request to open a lottery.
type CreateLotteryInput struct {
	CreatorID   string
	CreatorName string
	Title       string
	TotalCount  int
	PrizeTiers  []models.PrizeTier
}

// LotteryService runs lottery creation and the draw transaction on top of a
// storage.Repository. It holds no per-lottery state of its own; concurrent
// callers coordinate only through the repository's optimistic updates.
type LotteryService struct {
	repo        storage.Repository
	publisher   events.Publisher
	rnd         RandomSource
	now         func() time.Time
	maxAttempts int
}

// Option customizes a LotteryService.
type Option func(*LotteryService)

// WithPublisher sets where lottery events are sent.
func WithPublisher(p events.Publisher) Option {
	return func(s *LotteryService) { s.publisher = p }
}

// WithMaxAttempts sets the draw retry budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(s *LotteryService) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithRandom replaces the shuffle and backoff random source.
func WithRandom(r RandomSource) Option {
	return func(s *LotteryService) { s.rnd = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *LotteryService) { s.now = now }
}

// NewLotteryService creates and initializes a new LotteryService.
func NewLotteryService(repo storage.Repository, opts ...Option) *LotteryService {
	s := &LotteryService{
		repo:        repo,
		publisher:   events.LogPublisher{},
		rnd:         DefaultRandom,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input, generates the shuffled pool and stores the
// new lottery as active.
func (s *LotteryService) Create(ctx context.Context, in CreateLotteryInput) (*models.Lottery, error) {
	tiers, err := validateCreate(&in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	slots := GenerateSlots(in.TotalCount, tiers, s.rnd)
	lot := &models.Lottery{
		ID:          uuid.NewString(),
		CreatorID:   in.CreatorID,
		CreatorName: in.CreatorName,
		Title:       in.Title,
		TotalCount:  in.TotalCount,
		PrizeTiers:  tiers,
		Slots:       slots,
		Status:      models.StatusActive,
		Inventory:   Summarize(slots, tiers),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateLottery(ctx, lot); err != nil {
		return nil, fmt.Errorf("create lottery: %w", err)
	}

	logger.Infof("Created lottery %s (%q) with %d slots, %d winners, creator %s",
		lot.ID, lot.Title, lot.TotalCount, lot.RemainingWinners, lot.CreatorID)
	metrics.RecordLotteryCreated()
	s.publish(ctx, events.RoutingLotteryCreated, events.LotteryCreated{
		LotteryID:  lot.ID,
		CreatorID:  lot.CreatorID,
		Title:      lot.Title,
		TotalCount: lot.TotalCount,
		Winners:    lot.RemainingWinners,
		CreatedAt:  now,
	})
	return lot, nil
}

func validateCreate(in *CreateLotteryInput) ([]models.PrizeTier, error) {
	in.CreatorID = strings.TrimSpace(in.CreatorID)
	in.CreatorName = strings.TrimSpace(in.CreatorName)
	in.Title = strings.TrimSpace(in.Title)

	if in.CreatorID == "" {
		return nil, invalid("creatorId", "is required")
	}
	if in.Title == "" {
		return nil, invalid("title", "is required")
	}
	if in.TotalCount < 1 {
		return nil, invalid("totalCount", "must be at least 1, got %d", in.TotalCount)
	}
	if in.TotalCount > MaxTotalCount {
		return nil, invalid("totalCount", "must be at most %d, got %d", MaxTotalCount, in.TotalCount)
	}
	if len(in.PrizeTiers) == 0 {
		return nil, invalid("prizeTiers", "at least one prize tier is required")
	}

	tiers := make([]models.PrizeTier, len(in.PrizeTiers))
	winners := 0
	for i, t := range in.PrizeTiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, invalid(fmt.Sprintf("prizeTiers[%d].name", i), "is required")
		}
		if t.Count < 1 {
			return nil, invalid(fmt.Sprintf("prizeTiers[%d].count", i), "must be at least 1, got %d", t.Count)
		}
		winners += t.Count
		tiers[i] = models.PrizeTier{Name: name, Count: t.Count}
	}
	if winners > in.TotalCount {
		return nil, invalid("prizeTiers", "%d prize slots exceed the total of %d", winners, in.TotalCount)
	}
	return tiers, nil
}

// Get returns one lottery.
func (s *LotteryService) Get(ctx context.Context, id string) (*models.Lottery, error) {
	lot, err := s.repo.GetLottery(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get lottery %s: %w", id, err)
	}
	return lot, nil
}

// List returns lotteries matching filter, newest first.
func (s *LotteryService) List(ctx context.Context, filter storage.LotteryFilter) ([]*models.Lottery, error) {
	lots, err := s.repo.ListLotteries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list lotteries: %w", err)
	}
	return lots, nil
}

// ListByCreator returns the lotteries a user created, newest first.
func (s *LotteryService) ListByCreator(ctx context.Context, creatorID string) ([]*models.Lottery, error) {
	return s.List(ctx, storage.LotteryFilter{CreatorID: creatorID})
}

// ListActive returns lotteries that still have slots, newest first.
func (s *LotteryService) ListActive(ctx context.Context) ([]*models.Lottery, error) {
	return s.List(ctx, storage.LotteryFilter{Status: models.StatusActive})
}

// Draw claims slotIndex of the lottery for participantID. The claim, the
// recomputed inventory, the completion transition and the draw record are
// committed together; if another draw commits first the whole attempt is
// recomputed from a fresh read, up to the configured number of attempts.
func (s *LotteryService) Draw(ctx context.Context, lotteryID, participantID, nickname string, slotIndex int) (*models.DrawResult, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, invalid("participantId", "is required")
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		nickname = DefaultNickname
	}

	for attempt := 1; ; attempt++ {
		var result *models.DrawResult
		var record *models.DrawRecord
		_, err := s.repo.UpdateLottery(ctx, lotteryID, func(ctx context.Context, lot *models.Lottery, log storage.DrawLog) (*models.DrawRecord, error) {
			res, rec, err := s.claimSlot(ctx, lot, log, participantID, nickname, slotIndex)
			if err != nil {
				return nil, err
			}
			result, record = res, rec
			return rec, nil
		})
		if err == nil {
			metrics.ObserveDrawAttempts(attempt)
			metrics.RecordDraw(string(result.Outcome))
			s.afterDraw(ctx, record, result)
			return result, nil
		}

		if !errors.Is(err, ErrConflict) {
			metrics.RecordDrawRejection(rejectionReason(err))
			if errors.Is(err, ErrInventoryDrift) {
				logger.Errorf("Draw on lottery %s refused: %v", lotteryID, err)
			}
			return nil, err
		}

		metrics.RecordDrawConflict()
		if attempt >= s.maxAttempts {
			logger.Warningf("Draw on lottery %s slot %d by %s gave up after %d conflicting attempts", lotteryID, slotIndex, participantID, attempt)
			metrics.RecordDrawRejection(rejectionReason(err))
			return nil, fmt.Errorf("draw on lottery %s: %d attempts: %w", lotteryID, attempt, ErrConflict)
		}
		logger.Infof("Draw on lottery %s slot %d hit a concurrent write, retrying (attempt %d)", lotteryID, slotIndex, attempt)
		if err := s.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// claimSlot is one pure attempt at the draw against a snapshot. It mutates
// lot and returns the result and the record to append with it.
func (s *LotteryService) claimSlot(ctx context.Context, lot *models.Lottery, log storage.DrawLog, participantID, nickname string, slotIndex int) (*models.DrawResult, *models.DrawRecord, error) {
	if err := VerifyInventory(lot); err != nil {
		return nil, nil, err
	}
	if lot.Status == models.StatusCompleted {
		return nil, nil, fmt.Errorf("lottery %s: %w", lot.ID, ErrLotteryCompleted)
	}
	if slotIndex < 0 || slotIndex >= len(lot.Slots) {
		return nil, nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidSlot, slotIndex, len(lot.Slots))
	}

	drawn, err := log.HasParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, fmt.Errorf("check participant: %w", err)
	}
	if drawn {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyParticipated, participantID)
	}

	slot := &lot.Slots[slotIndex]
	if slot.Claimed {
		return nil, nil, fmt.Errorf("%w: slot %d", ErrAlreadyClaimed, slotIndex)
	}

	now := s.now()
	slot.Claimed = true
	slot.ClaimedBy = &models.Claim{ParticipantID: participantID, Nickname: nickname, ClaimedAt: now}
	lot.Inventory = Summarize(lot.Slots, lot.PrizeTiers)
	if lot.RemainingTotal == 0 {
		lot.Status = models.StatusCompleted
	}
	lot.UpdatedAt = now

	result := &models.DrawResult{
		LotteryID: lot.ID,
		SlotIndex: slotIndex,
		Outcome:   models.OutcomeLose,
		Completed: lot.Status == models.StatusCompleted,
	}
	record := &models.DrawRecord{
		ID:            uuid.NewString(),
		LotteryID:     lot.ID,
		ParticipantID: participantID,
		Nickname:      nickname,
		SlotIndex:     slotIndex,
		Outcome:       models.OutcomeLose,
		DrawnAt:       now,
	}
	if slot.IsPrize() {
		tier := slot.TierIndex
		result.Outcome = models.OutcomeWin
		result.PrizeName = slot.PrizeName
		result.PrizeIndex = &tier
		record.Outcome = models.OutcomeWin
		record.PrizeName = slot.PrizeName
	}
	return result, record, nil
}

func (s *LotteryService) backoff(ctx context.Context, attempt int) error {
	wait := time.Duration(1+s.rnd.IntN(attempt*5)) * time.Millisecond
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *LotteryService) afterDraw(ctx context.Context, record *models.DrawRecord, result *models.DrawResult) {
	logger.Infof("Lottery %s slot %d drawn by %s: %s %s", record.LotteryID, record.SlotIndex, record.ParticipantID, record.Outcome, record.PrizeName)
	s.publish(ctx, events.RoutingLotteryDrawn, events.SlotDrawn{
		LotteryID:     record.LotteryID,
		DrawID:        record.ID,
		ParticipantID: record.ParticipantID,
		Nickname:      record.Nickname,
		SlotIndex:     record.SlotIndex,
		Outcome:       string(record.Outcome),
		PrizeName:     record.PrizeName,
		DrawnAt:       record.DrawnAt,
	})
	if result.Completed {
		logger.Infof("Lottery %s completed", record.LotteryID)
		s.publish(ctx, events.RoutingLotteryCompleted, events.LotteryCompleted{
			LotteryID:   record.LotteryID,
			CompletedAt: record.DrawnAt,
		})
	}
}

// publish sends an event after the state it describes is committed. A
// failure is logged and otherwise ignored.
func (s *LotteryService) publish(ctx context.Context, routingKey string, body any) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, routingKey, body); err != nil {
		logger.Warningf("Publishing %s failed: %v", routingKey, err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidSlot):
		return "invalid_slot"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrAlreadyParticipated):
		return "already_participated"
	case errors.Is(err, ErrLotteryCompleted):
		return "completed"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInventoryDrift):
		return "inventory_drift"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// History returns a lottery's draw records, newest first.
func (s *LotteryService) History(ctx context.Context, lotteryID string, filter storage.DrawFilter) ([]*models.DrawRecord, error) {
	records, err := s.repo.ListDrawRecords(ctx, lotteryID, filter)
	if err != nil {
		return nil, fmt.Errorf("draw history of %s: %w", lotteryID, err)
	}
	return records, nil
}

// HasDrawn reports whether participantID already drew in the lottery.
func (s *LotteryService) HasDrawn(ctx context.Context, lotteryID, participantID string) (bool, error) {
	records, err := s.History(ctx, lotteryID, storage.DrawFilter{ParticipantID: participantID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// Delete removes a completed lottery and its draw log. Only the creator may
// do so.
func (s *LotteryService) Delete(ctx context.Context, lotteryID, requesterID string) error {
	lot, err := s.Get(ctx, lotteryID)
	if err != nil {
		return err
	}
	if lot.CreatorID != requesterID {
		return fmt.Errorf("delete lottery %s: %w", lotteryID, ErrForbidden)
	}
	if lot.Status != models.StatusCompleted {
		return fmt.Errorf("delete lottery %s: %w", lotteryID, ErrNotCompleted)
	}
	if err := s.repo.DeleteLottery(ctx, lotteryID); err != nil {
		return fmt.Errorf("delete lottery %s: %w", lotteryID, err)
	}
	logger.Infof("Deleted lottery %s for creator %s", lotteryID, requesterID)
	return nil
}

// AuditInventory recounts every active lottery and returns the ids whose
// stored inventory or status disagrees with their slots. It never repairs.
func (s *LotteryService) AuditInventory(ctx context.Context) (checked int, drifted []string, err error) {
	lots, err := s.ListActive(ctx)
	if err != nil {
		return 0, nil, err
	}
	for _, lot := range lots {
		checked++
		if verr := VerifyInventory(lot); verr != nil {
			logger.Errorf("Inventory audit: %v", verr)
			metrics.RecordInventoryDrift()
			drifted = append(drifted, lot.ID)
		}
	}
	return checked, drifted, nil
}
