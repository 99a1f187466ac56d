package store

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// deliveries turns generated (id, second) pairs into messages. The same id
// always carries the same timestamp, as it would from the remote service.
func deliveries(idx []int, secs []int) []Message {
	n := min(len(idx), len(secs))
	stamp := make(map[int]int)
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		if _, ok := stamp[idx[i]]; !ok {
			stamp[idx[i]] = secs[i]
		}
		out = append(out, msg("c1", fmt.Sprintf("m%02d", idx[i]), stamp[idx[i]]))
	}
	return out
}

// TestPropertyDedup checks that repeated deliveries of the same message id,
// from any mix of sources, leave exactly one entry per id.
func TestPropertyDedup(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("one entry per message id", prop.ForAll(
		func(idx []int, secs []int) bool {
			s := New(nil)
			want := make(map[string]bool)
			for _, m := range deliveries(idx, secs) {
				s.UpsertMessage(m)
				s.UpsertMessage(m)
				want[m.ID] = true
			}
			got := s.Snapshot().MessagesFor("c1")
			seen := make(map[string]bool)
			for _, m := range got {
				if seen[m.ID] {
					return false
				}
				seen[m.ID] = true
			}
			return len(seen) == len(want)
		},
		gen.SliceOf(gen.IntRange(0, 15)),
		gen.SliceOf(gen.IntRange(0, 30)),
	))

	properties.TestingRun(t)
}

// TestPropertyOrdering checks that the stored sequence is sorted by
// (timestamp, id) regardless of arrival order.
func TestPropertyOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("messages sorted by timestamp then id", prop.ForAll(
		func(idx []int, secs []int, viaSet bool) bool {
			s := New(nil)
			all := deliveries(idx, secs)
			if viaSet {
				half := len(all) / 2
				s.SetMessages("c1", all[:half])
				for _, m := range all[half:] {
					s.UpsertMessage(m)
				}
			} else {
				for _, m := range all {
					s.UpsertMessage(m)
				}
			}
			got := s.Snapshot().MessagesFor("c1")
			for i := 1; i < len(got); i++ {
				if CompareMessages(got[i-1], got[i]) >= 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 15)),
		gen.SliceOf(gen.IntRange(0, 30)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestPropertyMarkReadIdempotent checks that marking a conversation read
// twice leaves the same unread state as marking it once.
func TestPropertyMarkReadIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("mark read twice == once", prop.ForAll(
		func(unread int, idx []int, secs []int) bool {
			s := New(nil)
			s.UpsertConversation(Conversation{ID: "c1"})
			for _, m := range deliveries(idx, secs) {
				if s.UpsertMessage(m) {
					s.IncrementUnread("c1")
				}
			}
			s.SetUnread(unread + len(s.Snapshot().MessagesFor("c1")))

			s.MarkRead("c1", "user")
			s.ClearConversationUnread("c1")
			once := s.Snapshot()

			s.MarkRead("c1", "user")
			s.ClearConversationUnread("c1")
			twice := s.Snapshot()

			return once.UnreadCount == twice.UnreadCount && once.Version == twice.Version
		},
		gen.IntRange(0, 20),
		gen.SliceOf(gen.IntRange(0, 10)),
		gen.SliceOf(gen.IntRange(0, 30)),
	))

	properties.TestingRun(t)
}
