package peer

import "testing"

func TestNewPoolReturnsGivenPeers(t *testing.T) {
	ids := []ID{"a", "b", "c"}
	p := NewPool(ids)

	got := p.Peers()
	if len(got) != len(ids) {
		t.Fatalf("Peers() len = %d, want %d", len(got), len(ids))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("Peers()[%d] = %q, want %q", i, got[i], ids[i])
		}
	}
}
