package visa

import "testing"

func TestAwaitingStep(t *testing.T) {
	steps := []string{"Submitted", "Entry Permit", "Medical", "Stamping"}

	tests := []struct {
		name      string
		steps     []string
		completed map[string]bool
		want      string
		wantOK    bool
	}{
		{"nothing done", steps, nil, "Submitted", true},
		{"first done", steps, map[string]bool{"Submitted": true}, "Entry Permit", true},
		{"gap in the middle", steps, map[string]bool{"Submitted": true, "Medical": true}, "Entry Permit", true},
		{"false flag counts as not done", steps, map[string]bool{"Submitted": false}, "Submitted", true},
		{"unknown steps ignored", steps, map[string]bool{"Interview": true}, "Submitted", true},
		{"all done", steps, map[string]bool{"Submitted": true, "Entry Permit": true, "Medical": true, "Stamping": true}, "", false},
		{"no steps configured", nil, nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AwaitingStep(tt.steps, tt.completed)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("AwaitingStep() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAwaitingStep_FollowsStepOrder(t *testing.T) {
	completed := map[string]bool{"A": true}
	if got, _ := AwaitingStep([]string{"A", "B", "C"}, completed); got != "B" {
		t.Errorf("expected B, got %q", got)
	}
	// Reordering the configured steps changes the awaiting step.
	if got, _ := AwaitingStep([]string{"C", "A", "B"}, completed); got != "C" {
		t.Errorf("expected C after reorder, got %q", got)
	}
}

func TestProgressOf(t *testing.T) {
	steps := []string{"A", "B", "C"}
	a := Applicant{ID: "x", StepsCompleted: map[string]bool{"A": true, "Old": true}}

	p := ProgressOf(steps, a)
	if p.ApplicantID != "x" {
		t.Errorf("unexpected id %q", p.ApplicantID)
	}
	if p.AwaitingStep != "B" {
		t.Errorf("expected awaiting B, got %q", p.AwaitingStep)
	}
	if p.Completed != 1 || p.Total != 3 {
		t.Errorf("expected 1/3, got %d/%d", p.Completed, p.Total)
	}
	if p.Done {
		t.Error("expected not done")
	}

	a.StepsCompleted = map[string]bool{"A": true, "B": true, "C": true}
	p = ProgressOf(steps, a)
	if !p.Done || p.AwaitingStep != "" || p.Completed != 3 {
		t.Errorf("expected done, got %+v", p)
	}
}

func TestSummarizeProgress(t *testing.T) {
	steps := []string{"A", "B", "C"}
	applicants := []Applicant{
		{ID: "1"},
		{ID: "2", StepsCompleted: map[string]bool{"A": true}},
		{ID: "3", StepsCompleted: map[string]bool{"A": true}},
		{ID: "4", StepsCompleted: map[string]bool{"A": true, "B": true, "C": true}},
	}

	s := SummarizeProgress(steps, applicants)

	want := []StepCount{{"A", 1}, {"B", 2}, {"C", 0}}
	if len(s.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(s.Steps))
	}
	for i := range want {
		if s.Steps[i] != want[i] {
			t.Errorf("step %d: got %+v, want %+v", i, s.Steps[i], want[i])
		}
	}
	if s.Done != 1 {
		t.Errorf("expected 1 done, got %d", s.Done)
	}
	if s.Total != 4 {
		t.Errorf("expected total 4, got %d", s.Total)
	}
}

func TestSummarizeProgress_DuplicateSteps(t *testing.T) {
	// Hand-edited settings can repeat a step; the count goes to the first occurrence.
	steps := []string{"A", "B", "A"}
	applicants := []Applicant{
		{ID: "1"},
		{ID: "2", StepsCompleted: map[string]bool{"A": true}},
	}

	s := SummarizeProgress(steps, applicants)

	want := []StepCount{{"A", 1}, {"B", 1}, {"A", 0}}
	for i := range want {
		if s.Steps[i] != want[i] {
			t.Errorf("step %d: got %+v, want %+v", i, s.Steps[i], want[i])
		}
	}
}
