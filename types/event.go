package types

import (
	"strconv"
	"time"
)

// Event kinds emitted by the engine.
const (
	EventTransfer      = "transfer"
	EventLootBoxOpened = "lootbox_opened"
)

// EventAttribute is a single key-value tag within an event.
type EventAttribute struct {
	Key   string `cramberry:"1" json:"key"`
	Value string `cramberry:"2" json:"value"`
	Index bool   `cramberry:"3" json:"index,omitempty"` // Whether indexers should pick this up.
}

// Event is an engine-emitted notification.
type Event struct {
	Kind       string           `cramberry:"1" json:"kind"`
	Time       Timestamp        `cramberry:"2" json:"time"`
	Attributes []EventAttribute `cramberry:"3" json:"attributes"`
}

// Attr returns the value of the first attribute named key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// TransferEvent describes amount of token moving from one account to
// another. Mints come from the zero account and burns go to it.
func TransferEvent(at time.Time, from, to Account, token TokenID, amount uint64) Event {
	return Event{
		Kind: EventTransfer,
		Time: TimeToTimestamp(at),
		Attributes: []EventAttribute{
			{Key: "from", Value: from.String(), Index: true},
			{Key: "to", Value: to.String(), Index: true},
			{Key: "token", Value: token.String(), Index: true},
			{Key: "amount", Value: strconv.FormatUint(amount, 10)},
		},
	}
}
