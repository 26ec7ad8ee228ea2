package timing

import (
	"testing"

	"github.com/awynne3/rallyhq/go/internal/models"
)

func slots(travels ...int) []models.QueueSlot {
	out := make([]models.QueueSlot, len(travels))
	for i, t := range travels {
		out[i] = models.QueueSlot{Name: string(rune('a' + i)), TravelSeconds: t}
	}
	return out
}

func TestScheduleEmpty(t *testing.T) {
	got := Schedule(nil, 0)
	if len(got) != 0 {
		t.Fatalf("expected empty schedule, got %d slots", len(got))
	}
}

func TestScheduleSingleSlot(t *testing.T) {
	got := Schedule(slots(120), 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(got))
	}
	if got[0].LaunchDelaySeconds != 0 {
		t.Errorf("launch delay = %d, want 0", got[0].LaunchDelaySeconds)
	}
	if got[0].ArrivalSeconds != 120 {
		t.Errorf("arrival = %d, want 120", got[0].ArrivalSeconds)
	}
}

func TestScheduleSimultaneous(t *testing.T) {
	// Two marches, 40s and 25s travel, landing together: the slower one
	// launches immediately, the faster one waits out the difference.
	got := Schedule(slots(40, 25), 0)

	wantDelays := []int{0, 15}
	for i, s := range got {
		if s.LaunchDelaySeconds != wantDelays[i] {
			t.Errorf("slot %d delay = %d, want %d", i, s.LaunchDelaySeconds, wantDelays[i])
		}
		if s.ArrivalSeconds != 40 {
			t.Errorf("slot %d arrival = %d, want 40", i, s.ArrivalSeconds)
		}
	}
}

func TestScheduleStaggered(t *testing.T) {
	got := Schedule(slots(40, 25, 10), 5)

	wantDelays := []int{0, 20, 40}
	wantArrivals := []int{40, 45, 50}
	for i, s := range got {
		if s.LaunchDelaySeconds != wantDelays[i] {
			t.Errorf("slot %d delay = %d, want %d", i, s.LaunchDelaySeconds, wantDelays[i])
		}
		if s.ArrivalSeconds != wantArrivals[i] {
			t.Errorf("slot %d arrival = %d, want %d", i, s.ArrivalSeconds, wantArrivals[i])
		}
	}
}

func TestScheduleSortsByDelay(t *testing.T) {
	// Fastest march first in the queue means it launches last; output order
	// must be the call order, not the insertion order.
	got := Schedule(slots(10, 60), 0)

	if got[0].Slot.TravelSeconds != 60 || got[1].Slot.TravelSeconds != 10 {
		t.Fatalf("expected slow march first in call order, got travels %d, %d",
			got[0].Slot.TravelSeconds, got[1].Slot.TravelSeconds)
	}
	if got[0].LaunchDelaySeconds != 0 || got[1].LaunchDelaySeconds != 50 {
		t.Fatalf("delays = %d, %d; want 0, 50",
			got[0].LaunchDelaySeconds, got[1].LaunchDelaySeconds)
	}
}

func TestScheduleStableOnTies(t *testing.T) {
	got := Schedule(slots(30, 30, 30), 0)
	for i, s := range got {
		if s.Slot.Name != string(rune('a'+i)) {
			t.Errorf("tie order broken at %d: got %q", i, s.Slot.Name)
		}
		if s.LaunchDelaySeconds != 0 {
			t.Errorf("slot %d delay = %d, want 0", i, s.LaunchDelaySeconds)
		}
	}
}

func TestScheduleProperties(t *testing.T) {
	cases := []struct {
		name    string
		travels []int
		gap     int
	}{
		{"spread travels gap 0", []int{300, 12, 88, 88, 1}, 0},
		{"spread travels gap 7", []int{300, 12, 88, 88, 1}, 7},
		{"ascending gap 30", []int{10, 20, 30, 40}, 30},
		{"descending gap 3", []int{500, 400, 300}, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Schedule(slots(tc.travels...), tc.gap)

			for i, s := range got {
				if s.LaunchDelaySeconds < 0 {
					t.Errorf("slot %d has negative delay %d", i, s.LaunchDelaySeconds)
				}
				if s.ArrivalSeconds != s.LaunchDelaySeconds+s.Slot.TravelSeconds {
					t.Errorf("slot %d arrival %d != delay %d + travel %d",
						i, s.ArrivalSeconds, s.LaunchDelaySeconds, s.Slot.TravelSeconds)
				}
			}

			// Arrivals sorted by desired order differ by exactly the gap.
			arrivals := make([]int, len(got))
			for _, s := range got {
				// Recover the input index by travel+name snapshot.
				for i, tr := range tc.travels {
					if s.Slot.TravelSeconds == tr && s.Slot.Name == string(rune('a'+i)) {
						arrivals[i] = s.ArrivalSeconds
					}
				}
			}
			for i := 1; i < len(arrivals); i++ {
				if arrivals[i]-arrivals[i-1] != tc.gap {
					t.Errorf("arrival gap between %d and %d = %d, want %d",
						i-1, i, arrivals[i]-arrivals[i-1], tc.gap)
				}
			}
		})
	}
}
