// Package timing computes synchronized launch schedules for multi-actor
// rallies. It is pure relative-time arithmetic: no clocks, no I/O.
package timing

import (
	"sort"

	"github.com/awynne3/rallyhq/go/internal/models"
)

// ScheduledSlot pairs a queue slot with its computed launch delay and
// arrival time, both in seconds relative to the call order start.
type ScheduledSlot struct {
	Slot               models.QueueSlot `json:"slot"`
	LaunchDelaySeconds int              `json:"launch_delay_seconds"`
	ArrivalSeconds     int              `json:"arrival_seconds"`
}

// Schedule computes per-slot launch delays so that slot i arrives i*gap
// seconds after the first arrival. With gap 0 all slots land together.
//
// For slot i, offset_i = travel_i - i*gap. The largest offset belongs to the
// actor that is slowest relative to its desired arrival; it launches at
// delay 0 and everyone else waits maxOffset - offset_i. Delays are therefore
// never negative. The result is re-sorted by ascending launch delay (stable
// on input order for ties) to give the actionable call order.
func Schedule(slots []models.QueueSlot, gapSeconds int) []ScheduledSlot {
	if len(slots) == 0 {
		return []ScheduledSlot{}
	}
	if gapSeconds < 0 {
		gapSeconds = 0
	}

	offsets := make([]int, len(slots))
	maxOffset := 0
	for i, slot := range slots {
		offsets[i] = slot.TravelSeconds - i*gapSeconds
		if i == 0 || offsets[i] > maxOffset {
			maxOffset = offsets[i]
		}
	}

	out := make([]ScheduledSlot, len(slots))
	for i, slot := range slots {
		delay := maxOffset - offsets[i]
		out[i] = ScheduledSlot{
			Slot:               slot,
			LaunchDelaySeconds: delay,
			ArrivalSeconds:     delay + slot.TravelSeconds,
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].LaunchDelaySeconds < out[b].LaunchDelaySeconds
	})
	return out
}
