package sim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

// Event topics published after each transition.
const (
	TopicTick               = "sim:tick"
	TopicPositionOpened     = "sim:position_opened"
	TopicPositionClosed     = "sim:position_closed"
	TopicPositionLiquidated = "sim:position_liquidated"
	TopicQuestCompleted     = "sim:quest_completed"
)

// Topics lists every topic the engine publishes.
var Topics = []string{
	TopicTick,
	TopicPositionOpened,
	TopicPositionClosed,
	TopicPositionLiquidated,
	TopicQuestCompleted,
}

// Publisher receives engine events. asaskevich/EventBus satisfies it.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// Event is the single payload type of every topic. State is the snapshot
// the transition produced; the other fields are set depending on Type.
type Event struct {
	Type     string             `json:"type"`
	Tick     uint64             `json:"tick"`
	Time     time.Time          `json:"time"`
	State    *model.GameState   `json:"state"`
	Position *model.Position    `json:"position,omitempty"`
	Released decimal.Decimal    `json:"released"`
	Tree     *model.PlantedTree `json:"tree,omitempty"`
	Quest    *model.Quest       `json:"quest,omitempty"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, ...interface{}) {}
