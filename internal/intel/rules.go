package intel

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the tunable part of the extractor. Everything else is fixed
// pattern shape.
type Rules struct {
	// UPIHandles lists payment-handle suffixes (the part after '@') that are
	// always classified as UPI, even when they look like a mail domain.
	UPIHandles []string `yaml:"upi_handles"`
	// URLTLDs lists top-level domains accepted for bare links without a scheme.
	URLTLDs []string `yaml:"url_tlds"`
	// SuspiciousKeywords are matched case-insensitively as substrings.
	SuspiciousKeywords []string `yaml:"suspicious_keywords"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		UPIHandles: []string{
			"ybl", "ibl", "axl", "paytm", "upi", "apl", "okaxis", "okhdfcbank",
			"okicici", "oksbi", "axisbank", "icici", "hdfcbank", "sbi", "kotak",
			"barodampay", "aubank", "idfcbank", "indus", "federal", "rbl",
			"yesbank", "freecharge", "mobikwik", "jupiteraxis", "slice",
			"waaxis", "wahdfcbank", "waicici", "wasbi", "pingpay", "airtel",
			"jio", "postbank", "timecosmos",
		},
		URLTLDs: []string{
			"com", "net", "org", "in", "co", "io", "info", "biz", "xyz", "online",
			"site", "app", "top", "click", "link", "live", "shop", "store",
			"club", "win", "loan", "vip", "tk", "ml", "ga", "cf", "gq", "ly",
		},
		SuspiciousKeywords: []string{
			"urgent", "immediately", "verify", "blocked", "suspended", "winner",
			"lottery", "prize", "claim", "otp", "kyc", "update", "expire", "fine",
			"arrest", "transfer", "payment", "account", "bank", "upi", "refund",
			"bonus",
		},
	}
}

// LoadRules reads a YAML rules file. Missing keys fall back to the
// built-in defaults; a missing file yields the defaults and no error.
func LoadRules(path string) (Rules, error) {
	defaults := DefaultRules()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	if len(r.UPIHandles) == 0 {
		r.UPIHandles = defaults.UPIHandles
	}
	if len(r.URLTLDs) == 0 {
		r.URLTLDs = defaults.URLTLDs
	}
	if len(r.SuspiciousKeywords) == 0 {
		r.SuspiciousKeywords = defaults.SuspiciousKeywords
	}
	return r.normalized(), nil
}

func (r Rules) normalized() Rules {
	return Rules{
		UPIHandles:         normalizeList(r.UPIHandles),
		URLTLDs:            normalizeList(r.URLTLDs),
		SuspiciousKeywords: normalizeList(r.SuspiciousKeywords),
	}
}

// normalizeList lower-cases and trims entries, drops blanks and duplicates
// and keeps the first-seen order.
func normalizeList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		v = strings.TrimPrefix(v, "@")
		v = strings.TrimPrefix(v, ".")
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
