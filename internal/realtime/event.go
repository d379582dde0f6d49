// Package realtime turns the trades change feed into per-user event streams.
//
// Events are advisory. Consumers re-read authoritative state on receipt and must tolerate
// duplicates and out-of-order delivery.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const Channel = "trade_events"

var ErrBadPayload = errors.New("bad trade event payload")

type Event struct {
	TradeID    string `json:"trade_id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Status     string `json:"status"`
	Op         string `json:"op"`
}

// Key identifies a delivery for de-duplication. A trade passes through each status at most once.
func (e Event) Key() string { return e.TradeID + "/" + e.Status }

func Decode(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	e.Status = strings.ToLower(strings.TrimSpace(e.Status))
	e.Op = strings.ToLower(strings.TrimSpace(e.Op))
	if e.TradeID == "" || e.Status == "" {
		return Event{}, fmt.Errorf("%w: missing trade id or status", ErrBadPayload)
	}
	return e, nil
}

type Sink interface {
	Publish(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }
