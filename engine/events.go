package engine

import (
	"strconv"
	"time"

	"github.com/blockberries/lootbox/types"
)

// openedEvent summarizes one unpack call. Per-category totals are
// attributes named "category:<id>".
func openedEvent(at time.Time, s types.UnpackSummary) types.Event {
	attrs := []types.EventAttribute{
		{Key: "receipt", Value: s.ReceiptID, Index: true},
		{Key: "option", Value: strconv.FormatUint(uint64(s.Option), 10), Index: true},
		{Key: "holder", Value: s.Holder.String(), Index: true},
		{Key: "boxes_consumed", Value: strconv.FormatUint(s.BoxesConsumed, 10)},
		{Key: "items_minted", Value: strconv.FormatUint(s.ItemsMinted, 10)},
	}
	for _, cc := range s.Totals {
		attrs = append(attrs, types.EventAttribute{
			Key:   "category:" + strconv.FormatUint(uint64(cc.Category), 10),
			Value: strconv.FormatUint(cc.Count, 10),
		})
	}
	return types.Event{Kind: types.EventLootBoxOpened, Time: types.TimeToTimestamp(at), Attributes: attrs}
}
