package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Topic string

const (
	TopicCandleUpdated    Topic = "candle.updated"
	TopicOrderBookUpdated Topic = "order_book.updated"
	TopicMarkPriceUpdated Topic = "mark_price.updated"
	TopicOrderOpen        Topic = "order.open"
	TopicOrderFill        Topic = "order.fill"
	TopicOrderCancel      Topic = "order.cancel"
	TopicPositionUpdate   Topic = "position.update"
	TopicPortfolioUpdate  Topic = "portfolio.update"
	TopicTradeNew         Topic = "trade.new"
)

// Event is a notification for the strategy layer. Payload is a snapshot of
// the affected entity and is never mutated after publishing.
type Event struct {
	Topic     Topic       `json:"topic"`
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol,omitempty"`
	Initial   bool        `json:"initial,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type subscriber struct {
	topics map[Topic]bool
	ch     chan Event
}

func (s *subscriber) wants(t Topic) bool {
	return len(s.topics) == 0 || s.topics[t]
}

// Bus fans events out to subscribers. Publishing never blocks: events are
// dropped for subscribers whose buffer is full.
type Bus struct {
	mu       sync.RWMutex
	exchange string
	subs     map[int]*subscriber
	nextID   int
	timeNow  func() time.Time
	logger   *zap.Logger
}

func NewBus(exchange string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		exchange: exchange,
		subs:     make(map[int]*subscriber),
		timeNow:  time.Now,
		logger:   logger.Named("events"),
	}
}

// Subscribe returns a channel receiving the given topics (all topics when
// none are given) and a function releasing the subscription.
func (b *Bus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &subscriber{topics: make(map[Topic]bool, len(topics)), ch: make(chan Event, buffer)}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish stamps and delivers an event.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.timeNow()
	}
	if e.Exchange == "" {
		e.Exchange = b.exchange
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(e.Topic) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.logger.Debug("Dropping event for slow subscriber",
				zap.String("topic", string(e.Topic)),
				zap.String("symbol", e.Symbol))
		}
	}
}

// Emit is a shorthand for Publish.
func (b *Bus) Emit(topic Topic, symbol string, payload interface{}) {
	b.Publish(Event{Topic: topic, Symbol: symbol, Payload: payload})
}
