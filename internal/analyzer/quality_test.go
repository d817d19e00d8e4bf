package analyzer

import "testing"

func TestCommunityStability_IdenticalAssignmentsAreStable(t *testing.T) {
	prev := map[string]string{"a": "c1", "b": "c1", "c": "c2", "d": "c2"}
	cur := map[string]string{"a": "c1", "b": "c1", "c": "c2", "d": "c2"}

	report := communityStability(prev, cur)

	if report.AdjustedRandIndex < 0.99 {
		t.Errorf("expected ARI near 1.0 for identical assignments, got %f", report.AdjustedRandIndex)
	}
	if report.VariationOfInformation > 0.01 {
		t.Errorf("expected VI near 0 for identical assignments, got %f", report.VariationOfInformation)
	}
}

func TestCommunityStability_ShuffledAssignmentsAreUnstable(t *testing.T) {
	prev := map[string]string{"a": "c1", "b": "c1", "c": "c2", "d": "c2"}
	cur := map[string]string{"a": "c1", "b": "c2", "c": "c1", "d": "c2"}

	report := communityStability(prev, cur)

	if report.VariationOfInformation <= 0 {
		t.Errorf("expected a positive VI for a reshuffled assignment, got %f", report.VariationOfInformation)
	}
}

func TestCommunityStability_IgnoresAccountsMissingFromEitherRun(t *testing.T) {
	prev := map[string]string{"a": "c1", "b": "c1"}
	cur := map[string]string{"a": "c1", "b": "c1", "new-account": "c3"}

	// Should not panic and should still report perfect agreement on the
	// overlapping accounts.
	report := communityStability(prev, cur)
	if report.AdjustedRandIndex < 0.99 {
		t.Errorf("expected ARI near 1.0 ignoring the account absent from the previous cycle, got %f", report.AdjustedRandIndex)
	}
}
