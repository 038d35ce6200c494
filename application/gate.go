package application

import (
	"sort"

	"admitflow/document"
)

// UnverifiedDocuments returns the mandatory document types whose latest
// version is not verified, in display order. A type absent from statuses has
// never been uploaded and therefore fails the gate. Pure read-side evaluation;
// the gate never mutates document state.
func UnverifiedDocuments(mandatory []document.Type, statuses map[document.Type]document.VerificationStatus) []document.Type {
	unverified := make([]document.Type, 0, len(mandatory))
	for _, t := range mandatory {
		if statuses[t] != document.StatusVerified {
			unverified = append(unverified, t)
		}
	}
	sort.SliceStable(unverified, func(i, j int) bool {
		return document.DisplayRank(unverified[i]) < document.DisplayRank(unverified[j])
	})
	return unverified
}
