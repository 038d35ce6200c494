package application

import "math"

// StepDefinition is static configuration for one intake form section.
type StepDefinition struct {
	ID     StepID
	Number int
	Title  string
	// Mandatory steps count toward the submission gate. All twelve are
	// mandatory in the current configuration: "optional content" steps such
	// as disability and employment still require an explicit save.
	Mandatory bool
	// AcknowledgmentOnly steps complete via an explicit acknowledgment flag
	// rather than payload presence.
	AcknowledgmentOnly bool
}

const (
	StepPersonalDetails      StepID = "personal_details"
	StepContactDetails       StepID = "contact_details"
	StepEmergencyContact     StepID = "emergency_contact"
	StepEducationHistory     StepID = "education_history"
	StepDisability           StepID = "disability"
	StepEnglishProficiency   StepID = "english_proficiency"
	StepVisaHistory          StepID = "visa_history"
	StepEmployment           StepID = "employment"
	StepCourseSelection      StepID = "course_selection"
	StepHealthInsurance      StepID = "health_insurance"
	StepFinancialDeclaration StepID = "financial_declaration"
	StepDeclaration          StepID = "declaration"
)

var stepDefinitions = []StepDefinition{
	{ID: StepPersonalDetails, Number: 1, Title: "Personal details", Mandatory: true},
	{ID: StepContactDetails, Number: 2, Title: "Contact details", Mandatory: true},
	{ID: StepEmergencyContact, Number: 3, Title: "Emergency contact", Mandatory: true},
	{ID: StepEducationHistory, Number: 4, Title: "Education history", Mandatory: true},
	{ID: StepDisability, Number: 5, Title: "Disability support", Mandatory: true},
	{ID: StepEnglishProficiency, Number: 6, Title: "English proficiency", Mandatory: true},
	{ID: StepVisaHistory, Number: 7, Title: "Visa history", Mandatory: true},
	{ID: StepEmployment, Number: 8, Title: "Employment", Mandatory: true},
	{ID: StepCourseSelection, Number: 9, Title: "Course selection", Mandatory: true},
	{ID: StepHealthInsurance, Number: 10, Title: "Health insurance", Mandatory: true},
	{ID: StepFinancialDeclaration, Number: 11, Title: "Financial declaration", Mandatory: true},
	{ID: StepDeclaration, Number: 12, Title: "Review and declaration", Mandatory: true, AcknowledgmentOnly: true},
}

// Steps returns all step definitions in form order.
func Steps() []StepDefinition {
	out := make([]StepDefinition, len(stepDefinitions))
	copy(out, stepDefinitions)
	return out
}

// StepByID looks up a step definition.
func StepByID(id StepID) (StepDefinition, bool) {
	for _, def := range stepDefinitions {
		if def.ID == id {
			return def, true
		}
	}
	return StepDefinition{}, false
}

// ParseStepID validates a caller-supplied step identifier.
func ParseStepID(raw string) (StepDefinition, error) {
	if def, ok := StepByID(StepID(raw)); ok {
		return def, nil
	}
	return StepDefinition{}, &UnknownStepError{StepID: raw}
}

// CompletionPercentage is 100 * completed-mandatory / mandatory, rounded to
// two decimals. Pure over the completed set; save order is irrelevant.
func CompletionPercentage(completed []StepID) float64 {
	var mandatory, done int
	for _, def := range stepDefinitions {
		if !def.Mandatory {
			continue
		}
		mandatory++
		if containsStep(completed, def.ID) {
			done++
		}
	}
	if mandatory == 0 {
		return 100
	}
	pct := 100 * float64(done) / float64(mandatory)
	return math.Round(pct*100) / 100
}

// NextStep returns the lowest-numbered incomplete step, or false when the
// form is fully complete.
func NextStep(completed []StepID) (StepID, bool) {
	for _, def := range stepDefinitions {
		if !containsStep(completed, def.ID) {
			return def.ID, true
		}
	}
	return "", false
}

// MissingSteps lists incomplete mandatory steps in form order.
func MissingSteps(completed []StepID) []StepID {
	missing := make([]StepID, 0, len(stepDefinitions))
	for _, def := range stepDefinitions {
		if def.Mandatory && !containsStep(completed, def.ID) {
			missing = append(missing, def.ID)
		}
	}
	return missing
}

func containsStep(steps []StepID, id StepID) bool {
	for _, s := range steps {
		if s == id {
			return true
		}
	}
	return false
}
