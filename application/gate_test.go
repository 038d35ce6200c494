package application

import (
	"reflect"
	"testing"

	"admitflow/document"
)

func TestUnverifiedDocuments_MissingUploadsFailTheGate(t *testing.T) {
	mandatory := []document.Type{document.TypePassport, document.TypeTranscripts}
	// No uploads at all: every mandatory type is unverified.
	got := UnverifiedDocuments(mandatory, nil)
	want := []document.Type{document.TypePassport, document.TypeTranscripts}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnverifiedDocuments = %v, want %v", got, want)
	}
}

func TestUnverifiedDocuments_OnlyVerifiedPasses(t *testing.T) {
	mandatory := []document.Type{document.TypePassport, document.TypeEnglishTest, document.TypeFinancialEvidence}
	statuses := map[document.Type]document.VerificationStatus{
		document.TypePassport:          document.StatusVerified,
		document.TypeEnglishTest:       document.StatusPendingReview,
		document.TypeFinancialEvidence: document.StatusRejected,
	}

	got := UnverifiedDocuments(mandatory, statuses)
	want := []document.Type{document.TypeEnglishTest, document.TypeFinancialEvidence}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnverifiedDocuments = %v, want %v", got, want)
	}
}

func TestUnverifiedDocuments_ReportsInDisplayOrder(t *testing.T) {
	// Mandatory list deliberately shuffled; report must follow display order.
	mandatory := []document.Type{document.TypeFinancialEvidence, document.TypePassport, document.TypeTranscripts}
	got := UnverifiedDocuments(mandatory, nil)
	want := []document.Type{document.TypePassport, document.TypeTranscripts, document.TypeFinancialEvidence}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnverifiedDocuments = %v, want %v", got, want)
	}
}

func TestUnverifiedDocuments_AllVerified(t *testing.T) {
	mandatory := []document.Type{document.TypePassport}
	statuses := map[document.Type]document.VerificationStatus{
		document.TypePassport: document.StatusVerified,
	}
	if got := UnverifiedDocuments(mandatory, statuses); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
