package event

import (
	"testing"

	"pgregory.net/rapid"
)

// Delivery order equals registration order for any mix of names and unsubscribes.
func TestSyncBus_OrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bus := NewBus(nil)
		n := rapid.IntRange(1, 30).Draw(t, "handlers")

		var got []int
		var want []int
		var subs []Subscription
		for i := 0; i < n; i++ {
			i := i
			name := rapid.SampledFrom([]Name{testEvent, "Other", Wildcard}).Draw(t, "name")
			subs = append(subs, bus.SubscribeFunc(name, func(Event) { got = append(got, i) }))
			if name != "Other" {
				want = append(want, i)
			}
		}

		drop := rapid.IntRange(0, n-1).Draw(t, "drop")
		bus.Unsubscribe(subs[drop])
		filtered := want[:0:0]
		for _, id := range want {
			if id != drop {
				filtered = append(filtered, id)
			}
		}

		bus.Publish(New(testEvent, "", nil))

		if len(got) != len(filtered) {
			t.Fatalf("delivered %v, want %v", got, filtered)
		}
		for i := range got {
			if got[i] != filtered[i] {
				t.Fatalf("delivered %v, want %v", got, filtered)
			}
		}
	})
}
