package balancer

import (
	"testing"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

func TestLoadBalancer_RoundRobinRotates(t *testing.T) {
	lb := New(shared.StrategyRoundRobin)
	candidates := []string{"charlie", "alpha", "bravo"}

	got := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		got = append(got, lb.Select(candidates, nil))
	}

	// Candidates are sorted by id before the cursor is applied.
	want := []string{"alpha", "bravo", "charlie", "alpha"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestLoadBalancer_EmptyCandidates(t *testing.T) {
	lb := New(shared.StrategyRoundRobin)
	if got := lb.Select(nil, nil); got != "" {
		t.Fatalf("expected empty selection, got %q", got)
	}
}

func TestLoadBalancer_LeastConnections(t *testing.T) {
	lb := New(shared.StrategyLeastConnections)
	lb.RecordConnection("a", 2)
	lb.RecordConnection("b", 1)

	if got := lb.Select([]string{"a", "b", "c"}, nil); got != "c" {
		t.Fatalf("expected untracked agent c with zero connections, got %q", got)
	}

	lb.RecordConnection("c", 3)
	if got := lb.Select([]string{"a", "b", "c"}, nil); got != "b" {
		t.Fatalf("expected least-loaded agent b, got %q", got)
	}

	// Ties break toward the lowest id.
	lb.RecordConnection("b", 1)
	if got := lb.Select([]string{"b", "a"}, nil); got != "a" {
		t.Fatalf("expected tie to break toward a, got %q", got)
	}
}

func TestLoadBalancer_ConnectionCountNeverNegative(t *testing.T) {
	lb := New(shared.StrategyLeastConnections)
	lb.RecordConnection("a", -5)
	lb.RecordConnection("a", 1)
	lb.RecordConnection("b", 2)

	if got := lb.Select([]string{"a", "b"}, nil); got != "a" {
		t.Fatalf("expected a with clamped count, got %q", got)
	}
}

func TestLoadBalancer_WeightedRoundPrefersHeaviest(t *testing.T) {
	lb := New(shared.StrategyWeightedRound)
	lb.SetWeight("a", 0.5)
	lb.SetWeight("b", 2.0)

	if got := lb.Select([]string{"a", "b", "c"}, nil); got != "b" {
		t.Fatalf("expected heaviest agent b, got %q", got)
	}
	// Unweighted agents default to 1.0.
	if got := lb.Select([]string{"a", "c"}, nil); got != "c" {
		t.Fatalf("expected default-weight c over down-weighted a, got %q", got)
	}
}

func TestLoadBalancer_LeastResponseTimePrefersMeasured(t *testing.T) {
	lb := New(shared.StrategyLeastResponseTime)
	lb.RecordResponseTime("a", 250)
	lb.RecordResponseTime("b", 40)

	if got := lb.Select([]string{"a", "b", "c"}, nil); got != "b" {
		t.Fatalf("expected fastest agent b, got %q", got)
	}
}

func TestLoadBalancer_CapabilityMatching(t *testing.T) {
	lb := New(shared.StrategyAgentCapability)
	lb.SetCapabilities("a", []string{"go", "review"})
	lb.SetCapabilities("b", []string{"go", "review", "deploy"})
	lb.SetCapabilities("c", []string{"python"})

	if got := lb.Select([]string{"a", "b", "c"}, []string{"go", "deploy"}); got != "b" {
		t.Fatalf("expected best capability match b, got %q", got)
	}
	if got := lb.Select([]string{"c"}, []string{"go"}); got != "" {
		t.Fatalf("expected no match for unsupported requirement, got %q", got)
	}
	// No requirements falls back to the first candidate.
	if got := lb.Select([]string{"b", "a"}, nil); got != "a" {
		t.Fatalf("expected lowest id without requirements, got %q", got)
	}
}

func TestLoadBalancer_ForgetDropsState(t *testing.T) {
	lb := New(shared.StrategyLeastConnections)
	lb.RecordConnection("a", 5)
	lb.Forget("a")

	if got := lb.Select([]string{"a", "b"}, nil); got != "a" {
		t.Fatalf("expected forgotten agent to tie at zero and win by id, got %q", got)
	}
}
