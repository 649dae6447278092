package visa

// Progress is an applicant's position in the configured step sequence.
type Progress struct {
	ApplicantID  string `json:"id"`
	AwaitingStep string `json:"awaitingStep,omitempty"`
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	Done         bool   `json:"done"`
}

// StepCount is the number of applicants waiting on a step.
type StepCount struct {
	Step  string `json:"step"`
	Count int    `json:"count"`
}

// Summary counts applicants by awaiting step, in step order.
type Summary struct {
	Steps []StepCount `json:"steps"`
	Done  int         `json:"done"`
	Total int         `json:"total"`
}

// AwaitingStep returns the first step in steps that is not marked complete.
// It returns false when every step is complete or no steps are configured.
func AwaitingStep(steps []string, completed map[string]bool) (string, bool) {
	for _, step := range steps {
		if !completed[step] {
			return step, true
		}
	}
	return "", false
}

// ProgressOf computes an applicant's progress through steps.
// Completion flags for steps that are no longer configured are ignored.
func ProgressOf(steps []string, a Applicant) Progress {
	p := Progress{ApplicantID: a.ID, Total: len(steps)}
	for _, step := range steps {
		if a.StepsCompleted[step] {
			p.Completed++
		}
	}
	step, ok := AwaitingStep(steps, a.StepsCompleted)
	p.AwaitingStep = step
	p.Done = !ok
	return p
}

// SummarizeProgress counts how many applicants await each step.
func SummarizeProgress(steps []string, applicants []Applicant) Summary {
	s := Summary{Steps: make([]StepCount, len(steps)), Total: len(applicants)}
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		s.Steps[i] = StepCount{Step: step}
		if _, ok := index[step]; !ok {
			index[step] = i
		}
	}
	for _, a := range applicants {
		step, ok := AwaitingStep(steps, a.StepsCompleted)
		if !ok {
			s.Done++
			continue
		}
		s.Steps[index[step]].Count++
	}
	return s
}
