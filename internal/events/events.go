// Package events publishes lottery lifecycle notifications. Events are sent
// after the change they describe is committed and are informational only.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/logger"
)

// Routing keys.
const (
	RoutingLotteryCreated   = "lottery.created"
	RoutingLotteryDrawn     = "lottery.drawn"
	RoutingLotteryCompleted = "lottery.completed"
)

// Publisher is implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close() error
}

// LotteryCreated is sent when a lottery opens.
type LotteryCreated struct {
	LotteryID  string    `json:"lotteryId"`
	CreatorID  string    `json:"creatorId"`
	Title      string    `json:"title"`
	TotalCount int       `json:"totalCount"`
	Winners    int       `json:"winners"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SlotDrawn is sent for every committed draw.
type SlotDrawn struct {
	LotteryID     string    `json:"lotteryId"`
	DrawID        string    `json:"drawId"`
	ParticipantID string    `json:"participantId"`
	Nickname      string    `json:"nickname"`
	SlotIndex     int       `json:"slotIndex"`
	Outcome       string    `json:"outcome"`
	PrizeName     string    `json:"prizeName,omitempty"`
	DrawnAt       time.Time `json:"drawnAt"`
}

// LotteryCompleted is sent once, after the draw that emptied the pool.
type LotteryCompleted struct {
	LotteryID   string    `json:"lotteryId"`
	CompletedAt time.Time `json:"completedAt"`
}

// LogPublisher writes events to the log instead of a broker. It is used when
// no broker is configured or the broker is unreachable at startup.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	logger.Infof("[event] %s %s", routingKey, payload)
	return nil
}

func (LogPublisher) Close() error { return nil }
