package domain

import (
	"slices"
)

// Evidence holds the identifiers extracted from a conversation.
// Every category is kept in canonical form: sorted, unique, never nil.
type Evidence struct {
	BankAccounts []string `json:"bankAccounts"`
	UPIHandles   []string `json:"upiIds"`
	PhoneNumbers []string `json:"phoneNumbers"`
	Emails       []string `json:"emails"`
	PhishingURLs []string `json:"phishingLinks"`
	RoutingCodes []string `json:"ifscCodes"`
	ReferenceIDs []string `json:"referenceNumbers"`
}

// NewEvidence returns an empty, canonical Evidence value.
func NewEvidence() Evidence {
	return Evidence{}.Canonical()
}

// Merge returns the per-category union of a and b.
// Neither input is modified.
func Merge(a, b Evidence) Evidence {
	merged := Evidence{
		BankAccounts: union(a.BankAccounts, b.BankAccounts),
		UPIHandles:   union(a.UPIHandles, b.UPIHandles),
		PhoneNumbers: union(a.PhoneNumbers, b.PhoneNumbers),
		Emails:       union(a.Emails, b.Emails),
		PhishingURLs: union(a.PhishingURLs, b.PhishingURLs),
		RoutingCodes: union(a.RoutingCodes, b.RoutingCodes),
		ReferenceIDs: union(a.ReferenceIDs, b.ReferenceIDs),
	}
	merged.resolveConflicts()
	return merged
}

// Canonical returns a sorted, deduplicated copy with conflicts resolved.
func (e Evidence) Canonical() Evidence {
	return Merge(e, Evidence{})
}

// Equal reports whether both values hold the same identifiers.
func (e Evidence) Equal(other Evidence) bool {
	a, b := e.Canonical(), other.Canonical()
	return slices.Equal(a.BankAccounts, b.BankAccounts) &&
		slices.Equal(a.UPIHandles, b.UPIHandles) &&
		slices.Equal(a.PhoneNumbers, b.PhoneNumbers) &&
		slices.Equal(a.Emails, b.Emails) &&
		slices.Equal(a.PhishingURLs, b.PhishingURLs) &&
		slices.Equal(a.RoutingCodes, b.RoutingCodes) &&
		slices.Equal(a.ReferenceIDs, b.ReferenceIDs)
}

// IsEmpty reports whether no identifier of any category is present.
func (e Evidence) IsEmpty() bool {
	return e.Count() == 0
}

// Count returns the total number of identifiers across all categories.
func (e Evidence) Count() int {
	return len(e.BankAccounts) + len(e.UPIHandles) + len(e.PhoneNumbers) +
		len(e.Emails) + len(e.PhishingURLs) + len(e.RoutingCodes) + len(e.ReferenceIDs)
}

// HasActionable reports whether any category that can be acted on by a
// payment or telecom provider is non-empty.
func (e Evidence) HasActionable() bool {
	return len(e.BankAccounts) > 0 || len(e.UPIHandles) > 0 ||
		len(e.PhoneNumbers) > 0 || len(e.PhishingURLs) > 0
}

// Missing lists the actionable categories that are still empty, using
// human-readable names.
func (e Evidence) Missing() []string {
	var missing []string
	if len(e.BankAccounts) == 0 {
		missing = append(missing, "bank account number")
	}
	if len(e.UPIHandles) == 0 {
		missing = append(missing, "UPI ID")
	}
	if len(e.PhoneNumbers) == 0 {
		missing = append(missing, "phone number")
	}
	if len(e.PhishingURLs) == 0 {
		missing = append(missing, "website/link")
	}
	return missing
}

// resolveConflicts drops values that ended up in two mutually exclusive
// categories. UPI wins over email and phone wins over bank account.
func (e *Evidence) resolveConflicts() {
	e.Emails = without(e.Emails, e.UPIHandles)
	e.BankAccounts = without(e.BankAccounts, e.PhoneNumbers)
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	out = slices.DeleteFunc(out, func(s string) bool { return s == "" })
	slices.Sort(out)
	return slices.Compact(out)
}

// without returns the elements of sorted that are not in exclude.
func without(sorted, exclude []string) []string {
	if len(exclude) == 0 {
		return sorted
	}
	out := sorted[:0:0]
	for _, v := range sorted {
		if _, found := slices.BinarySearch(exclude, v); !found {
			out = append(out, v)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
