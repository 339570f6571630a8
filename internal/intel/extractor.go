// Package intel turns free conversation text into typed evidence.
//
// Extraction is rule based and deterministic: every pattern is a compiled
// regexp used only through its FindAll* methods, so no match state survives
// between calls and an Extractor is safe for concurrent use.
package intel

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/honeypot/internal/domain"
)

const (
	minAccountDigits = 9
	maxAccountDigits = 18
	phoneDigits      = 10
)

var (
	// Indian mobile numbers: optional +91, bare 91 or trunk 0, ten digits
	// starting 6-9, optionally written as 5+5.
	phonePattern = regexp.MustCompile(`(?:\+91[\s-]?|91|0)?[6-9]\d{4}[\s-]?\d{5}`)

	digitRunPattern = regexp.MustCompile(`\d+`)

	// Account numbers written in 4-digit blocks, e.g. "1234 5678 9012".
	groupedAccountPattern = regexp.MustCompile(`\b\d{4}(?:[ -]\d{4}){1,3}(?:[ -]\d{1,4})?\b`)

	routingCodePattern = regexp.MustCompile(`\b[A-Z]{4}0[A-Z0-9]{6}\b`)

	handlePattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9][A-Za-z0-9.-]*`)

	upiDomainPattern   = regexp.MustCompile(`^[a-z][a-z0-9]+$`)
	emailDomainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.[a-z]{2,}$`)

	schemeURLPattern = regexp.MustCompile("(?i)\\b(?:https?|ftp)://[^\\s<>\"'{}|\\\\^`\\[\\]]+")
	wwwURLPattern    = regexp.MustCompile("(?i)\\bwww\\.[a-z0-9-]+(?:\\.[a-z0-9-]+)+[^\\s<>\"'{}|\\\\^`\\[\\]]*")

	// Reference codes after a label. "case" and "order" are ordinary words,
	// so they only count with an explicit no/number/id/# or a colon.
	referencePattern = regexp.MustCompile(`(?i)(?:` +
		`\b(?:reference|ref|ticket|policy|tracking|complaint)\b(?:\s*` + refSuffix + `)?` +
		`|\b(?:case|order)\b(?:\s*` + refSuffix + `|\s*:)` +
		`)(?:\s+is)?\s*[:#.\-]?\s*([a-z0-9][a-z0-9\-]{3,19})\b`)
)

const refSuffix = `(?:(?:no|number|num|id)\b\.?|#)`

const urlTrailingPunct = ".,;:!?)'\"]"

// Extractor extracts evidence and suspicious keywords from text.
type Extractor struct {
	upiHandles     map[string]struct{}
	bareURLPattern *regexp.Regexp
	keywords       []string
}

// New creates an extractor from rules. Empty rule lists fall back to the
// built-in defaults.
func New(rules Rules) *Extractor {
	defaults := DefaultRules()
	if len(rules.UPIHandles) == 0 {
		rules.UPIHandles = defaults.UPIHandles
	}
	if len(rules.URLTLDs) == 0 {
		rules.URLTLDs = defaults.URLTLDs
	}
	if len(rules.SuspiciousKeywords) == 0 {
		rules.SuspiciousKeywords = defaults.SuspiciousKeywords
	}
	rules = rules.normalized()

	handles := make(map[string]struct{}, len(rules.UPIHandles))
	for _, h := range rules.UPIHandles {
		handles[h] = struct{}{}
	}

	tlds := make([]string, 0, len(rules.URLTLDs))
	for _, t := range rules.URLTLDs {
		tlds = append(tlds, regexp.QuoteMeta(t))
	}
	bare := regexp.MustCompile("(?i)\\b[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\\.(?:" +
		strings.Join(tlds, "|") + ")\\b(?:/[^\\s<>\"'{}|\\\\^`\\[\\]]*)?")

	return &Extractor{
		upiHandles:     handles,
		bareURLPattern: bare,
		keywords:       rules.SuspiciousKeywords,
	}
}

// NewDefault creates an extractor with the built-in rules.
func NewDefault() *Extractor {
	return New(DefaultRules())
}

type span struct{ start, end int }

func overlapsAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

// Extract returns the evidence found in text. It never fails; empty or
// unparseable input yields empty evidence.
func (x *Extractor) Extract(text string) domain.Evidence {
	if strings.TrimSpace(text) == "" {
		return domain.NewEvidence()
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, " ")
	}

	var ev domain.Evidence

	var refSpans []span
	ev.ReferenceIDs, refSpans = extractReferences(text)

	var linkSpans []span
	ev.PhishingURLs, linkSpans = extractLinks(text)

	var handleSpans []span
	ev.UPIHandles, ev.Emails, handleSpans = x.extractHandles(text)

	ev.PhishingURLs = append(ev.PhishingURLs, x.extractBareDomains(text, append(linkSpans, handleSpans...))...)

	var phoneSpans []span
	ev.PhoneNumbers, phoneSpans = extractPhones(text, append(refSpans, linkSpans...))

	exclude := make([]span, 0, len(phoneSpans)+len(refSpans)+len(linkSpans)+len(handleSpans))
	exclude = append(exclude, phoneSpans...)
	exclude = append(exclude, refSpans...)
	exclude = append(exclude, linkSpans...)
	exclude = append(exclude, handleSpans...)
	ev.BankAccounts = extractAccounts(text, exclude)

	ev.RoutingCodes = routingCodePattern.FindAllString(text, -1)

	return ev.Canonical()
}

// Keywords returns the configured suspicious keywords that occur in text,
// in configuration order.
func (x *Extractor) Keywords(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range x.keywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

func extractReferences(text string) ([]string, []span) {
	var (
		out   []string
		spans []span
	)
	for _, m := range referencePattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		code := text[start:end]
		if !strings.ContainsAny(code, "0123456789") {
			continue
		}
		out = append(out, strings.ToUpper(code))
		spans = append(spans, span{start, end})
	}
	return out, spans
}

func extractLinks(text string) ([]string, []span) {
	var (
		out   []string
		spans []span
	)
	for _, loc := range schemeURLPattern.FindAllStringIndex(text, -1) {
		link := strings.TrimRight(text[loc[0]:loc[1]], urlTrailingPunct)
		if !strings.Contains(link, "://") || strings.HasSuffix(link, "://") {
			continue
		}
		out = append(out, link)
		spans = append(spans, span{loc[0], loc[1]})
	}
	for _, loc := range wwwURLPattern.FindAllStringIndex(text, -1) {
		if overlapsAny(spans, loc[0], loc[1]) {
			continue
		}
		out = append(out, strings.TrimRight(text[loc[0]:loc[1]], urlTrailingPunct))
		spans = append(spans, span{loc[0], loc[1]})
	}
	return out, spans
}

func (x *Extractor) extractBareDomains(text string, exclude []span) []string {
	var out []string
	for _, loc := range x.bareURLPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if overlapsAny(exclude, start, end) {
			continue
		}
		if start > 0 && text[start-1] == '@' {
			continue
		}
		if end < len(text) && text[end] == '@' {
			continue
		}
		out = append(out, strings.TrimRight(text[start:end], urlTrailingPunct))
	}
	return out
}

// extractHandles classifies every local@domain token exactly once, either
// as a UPI handle or as an email address.
func (x *Extractor) extractHandles(text string) (upi, emails []string, spans []span) {
	for _, loc := range handlePattern.FindAllStringIndex(text, -1) {
		token := strings.TrimRight(text[loc[0]:loc[1]], ".-")
		local, dom, ok := strings.Cut(token, "@")
		if !ok {
			continue
		}
		local = strings.TrimLeft(local, ".-")
		if local == "" || dom == "" {
			continue
		}
		dom = strings.ToLower(dom)
		value := strings.ToLower(local) + "@" + dom

		switch x.classifyDomain(dom) {
		case handleUPI:
			upi = append(upi, value)
		case handleEmail:
			emails = append(emails, value)
		default:
			continue
		}
		spans = append(spans, span{loc[0], loc[1]})
	}
	return upi, emails, spans
}

type handleKind int

const (
	handleNone handleKind = iota
	handleUPI
	handleEmail
)

// classifyDomain applies the UPI/email tie-break: a whitelisted payment
// suffix or an undotted domain is UPI, a dotted domain with an alphabetic
// top-level label is email.
func (x *Extractor) classifyDomain(dom string) handleKind {
	if _, ok := x.upiHandles[dom]; ok {
		return handleUPI
	}
	if !strings.Contains(dom, ".") {
		if upiDomainPattern.MatchString(dom) {
			return handleUPI
		}
		return handleNone
	}
	if emailDomainPattern.MatchString(dom) {
		return handleEmail
	}
	return handleNone
}

func extractPhones(text string, exclude []span) ([]string, []span) {
	var (
		out   []string
		spans []span
	)
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if !isolated(text, start, end) || overlapsAny(exclude, start, end) {
			continue
		}
		digits := onlyDigits(text[start:end])
		if len(digits) < phoneDigits {
			continue
		}
		out = append(out, digits[len(digits)-phoneDigits:])
		spans = append(spans, span{start, end})
	}
	return out, spans
}

func extractAccounts(text string, exclude []span) []string {
	var (
		out   []string
		taken []span
	)
	accept := func(start, end int) {
		if overlapsAny(exclude, start, end) || overlapsAny(taken, start, end) {
			return
		}
		if start > 0 && text[start-1] == '+' {
			return
		}
		digits := onlyDigits(text[start:end])
		if len(digits) < minAccountDigits || len(digits) > maxAccountDigits || isPhoneShaped(digits) {
			return
		}
		out = append(out, digits)
		taken = append(taken, span{start, end})
	}

	for _, loc := range digitRunPattern.FindAllStringIndex(text, -1) {
		if isolated(text, loc[0], loc[1]) {
			accept(loc[0], loc[1])
		}
	}
	for _, loc := range groupedAccountPattern.FindAllStringIndex(text, -1) {
		if isolated(text, loc[0], loc[1]) {
			accept(loc[0], loc[1])
		}
	}
	return out
}

func isPhoneShaped(digits string) bool {
	return len(digits) == phoneDigits && digits[0] >= '6' && digits[0] <= '9'
}

// isolated reports whether text[start:end] is not glued to a neighbouring
// letter, digit or underscore.
func isolated(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
