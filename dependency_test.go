package chai

import "testing"

func TestDependencyKindPriority(t *testing.T) {
	for i := 1; i < len(DependencyKinds); i++ {
		a, b := DependencyKinds[i-1], DependencyKinds[i]
		if a.Priority() >= b.Priority() {
			t.Errorf("%q should outrank %q", a, b)
		}
	}
	if got := DependencyKind("banana").Priority(); got != len(DependencyKinds) {
		t.Errorf("unrecognized kind priority: got: %d, want: %d", got, len(DependencyKinds))
	}
}
