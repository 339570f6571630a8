package intel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRulesMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	r, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), r)

	r, err = LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), r)
}

func TestLoadRulesFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
upi_handles:
  - "@Pay.Example"
  - pay.example
url_tlds:
  - .scam
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pay.example"}, r.UPIHandles)
	assert.Equal(t, []string{"scam"}, r.URLTLDs)
	assert.Equal(t, DefaultRules().SuspiciousKeywords, r.SuspiciousKeywords)

	x := New(r)
	got := x.Extract("send to user@pay.example or open evil.scam, not fake.xyz")
	assert.Equal(t, []string{"user@pay.example"}, got.UPIHandles)
	assert.Empty(t, got.Emails)
	assert.Equal(t, []string{"evil.scam"}, got.PhishingURLs)
}

func TestLoadRulesInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upi_handles: [unterminated"), 0o600))

	_, err := LoadRules(path)
	require.Error(t, err)
}

func TestNormalizeList(t *testing.T) {
	t.Parallel()

	got := normalizeList([]string{" OTP ", "otp", "", "@YBL", "KYC"})
	assert.Equal(t, []string{"otp", "ybl", "kyc"}, got)
}
