package document

import "time"

// Type identifies a category of supporting document an applicant can supply.
type Type string

const (
	TypePassport          Type = "passport"
	TypeVisaGrant         Type = "visa_grant"
	TypeTranscripts       Type = "academic_transcripts"
	TypeEnglishTest       Type = "english_test_result"
	TypeFinancialEvidence Type = "financial_evidence"
	TypeHealthCover       Type = "health_cover_certificate"
)

// displayOrder fixes the order document types appear in user-facing lists and
// error payloads. Reporting order is cosmetic, not a semantic priority.
var displayOrder = []Type{
	TypePassport,
	TypeVisaGrant,
	TypeTranscripts,
	TypeEnglishTest,
	TypeFinancialEvidence,
	TypeHealthCover,
}

// TypesInDisplayOrder returns all known document types in display order.
func TypesInDisplayOrder() []Type {
	out := make([]Type, len(displayOrder))
	copy(out, displayOrder)
	return out
}

// DisplayRank returns the position of a type in the display order. Unknown
// types sort after all known ones.
func DisplayRank(t Type) int {
	for i, known := range displayOrder {
		if known == t {
			return i
		}
	}
	return len(displayOrder)
}

// IsValidType reports whether raw names a known document type.
func IsValidType(raw string) bool {
	for _, known := range displayOrder {
		if Type(raw) == known {
			return true
		}
	}
	return false
}

// DefaultMandatoryTypes is the document set new applications require before
// submission. Stored per application so staff can narrow or extend it later.
func DefaultMandatoryTypes() []Type {
	return []Type{TypePassport, TypeTranscripts, TypeEnglishTest, TypeFinancialEvidence}
}

// VerificationStatus is the review state of one uploaded document version.
type VerificationStatus string

const (
	StatusNotUploaded   VerificationStatus = "not_uploaded"
	StatusPendingReview VerificationStatus = "pending_review"
	StatusVerified      VerificationStatus = "verified"
	StatusRejected      VerificationStatus = "rejected"
)

// Record mirrors one row of the documents table. Uploads are versioned per
// (application, type); only the latest version counts for gating.
type Record struct {
	ID            string
	ApplicationID string
	Type          Type
	Version       int
	FileName      string
	Status        VerificationStatus
	ReviewNote    *string
	ReviewedBy    *string
	UploadedBy    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
