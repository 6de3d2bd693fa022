package services

import (
	"sync"
	"time"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/models"
	"rewards-ledger-system/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger event types.
const (
	EventBalanceChanged    = "balance_changed"
	EventWithdrawalCreated = "withdrawal_created"
	EventWithdrawalUpdated = "withdrawal_updated"
	EventAccountCreated    = "account_created"
	EventSettingsChanged   = "settings_changed"
)

// LedgerEvent tells subscribers that ledger state changed. It carries enough
// to update a view without refetching, but clients may also just refetch.
type LedgerEvent struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	AccountID    string                 `json:"account_id,omitempty"`
	Kind         models.LedgerEntryKind `json:"kind,omitempty"`
	Delta        int64                  `json:"delta,omitempty"`
	Balance      int64                  `json:"balance"`
	WithdrawalID string                 `json:"withdrawal_id,omitempty"`
	Status       string                 `json:"status,omitempty"`
	At           time.Time              `json:"at"`
}

type subscription struct {
	accountID string // empty receives every event
	ch        chan LedgerEvent
}

// EventHub fans committed ledger changes out to in-process subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	buffer int
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 16
	}
	return &EventHub{subs: make(map[string]*subscription), buffer: buffer}
}

// Subscribe registers for events of accountID ("" for all accounts). The
// returned cancel func must be called to release the subscription.
func (h *EventHub) Subscribe(accountID string) (<-chan LedgerEvent, func()) {
	id := uuid.NewString()
	sub := &subscription{accountID: accountID, ch: make(chan LedgerEvent, h.buffer)}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
	monitoring.EventSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
			monitoring.EventSubscribers.Dec()
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber. Events without an
// AccountID are broadcast. Safe on a nil hub.
func (h *EventHub) Publish(ev LedgerEvent) {
	if h == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if ev.AccountID != "" && sub.accountID != "" && sub.accountID != ev.AccountID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logging.Logger.Debug("[EVENTS] subscriber buffer full, dropping event",
				zap.String("type", ev.Type), zap.String("account_id", ev.AccountID))
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
