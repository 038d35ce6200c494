package application

import "testing"

func allStepIDs() []StepID {
	ids := make([]StepID, 0, 12)
	for _, def := range Steps() {
		ids = append(ids, def.ID)
	}
	return ids
}

func TestSteps_TwelveDefinedAllMandatory(t *testing.T) {
	defs := Steps()
	if len(defs) != 12 {
		t.Fatalf("expected 12 steps, got %d", len(defs))
	}
	for i, def := range defs {
		if def.Number != i+1 {
			t.Errorf("step %s has number %d, want %d", def.ID, def.Number, i+1)
		}
		if !def.Mandatory {
			t.Errorf("step %s is not mandatory", def.ID)
		}
	}
	if defs[0].ID != StepPersonalDetails {
		t.Errorf("first step is %s, want %s", defs[0].ID, StepPersonalDetails)
	}
	last := defs[len(defs)-1]
	if last.ID != StepDeclaration || !last.AcknowledgmentOnly {
		t.Errorf("last step should be acknowledgment-only declaration, got %+v", last)
	}
}

func TestCompletionPercentage(t *testing.T) {
	ids := allStepIDs()
	cases := []struct {
		name      string
		completed []StepID
		want      float64
	}{
		{"none", nil, 0},
		{"one", ids[:1], 8.33},
		{"five", ids[:5], 41.67},
		{"seven", ids[:7], 58.33},
		{"eleven", ids[:11], 91.67},
		{"all", ids, 100},
	}
	for _, tc := range cases {
		if got := CompletionPercentage(tc.completed); got != tc.want {
			t.Errorf("%s: CompletionPercentage = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCompletionPercentage_IgnoresSaveOrderAndDuplicates(t *testing.T) {
	shuffled := []StepID{StepEmployment, StepPersonalDetails, StepDisability, StepEmployment}
	if got := CompletionPercentage(shuffled); got != 25.0 {
		t.Fatalf("CompletionPercentage = %v, want 25.0", got)
	}
}

func TestNextStep_LowestNumberedIncompleteWins(t *testing.T) {
	next, ok := NextStep(nil)
	if !ok || next != StepPersonalDetails {
		t.Fatalf("fresh form: next = %s, want %s", next, StepPersonalDetails)
	}

	// Steps saved out of order: the lowest-numbered gap is reported.
	completed := []StepID{StepPersonalDetails, StepEmergencyContact, StepEmployment}
	next, ok = NextStep(completed)
	if !ok || next != StepContactDetails {
		t.Fatalf("next = %s, want %s", next, StepContactDetails)
	}

	if _, ok := NextStep(allStepIDs()); ok {
		t.Fatal("complete form should have no next step")
	}
}

func TestMissingSteps_FormOrder(t *testing.T) {
	completed := []StepID{StepContactDetails, StepEducationHistory}
	missing := MissingSteps(completed)
	if len(missing) != 10 {
		t.Fatalf("expected 10 missing steps, got %d", len(missing))
	}
	if missing[0] != StepPersonalDetails {
		t.Errorf("first missing = %s, want %s", missing[0], StepPersonalDetails)
	}
	if missing[len(missing)-1] != StepDeclaration {
		t.Errorf("last missing = %s, want %s", missing[len(missing)-1], StepDeclaration)
	}
}

func TestParseStepID(t *testing.T) {
	def, err := ParseStepID("disability")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Number != 5 {
		t.Fatalf("disability step number = %d, want 5", def.Number)
	}

	_, err = ParseStepID("favorite_color")
	unknown, ok := err.(*UnknownStepError)
	if !ok {
		t.Fatalf("expected UnknownStepError, got %T", err)
	}
	if unknown.StepID != "favorite_color" {
		t.Fatalf("UnknownStepError.StepID = %q", unknown.StepID)
	}
}
