package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Porsche Club Berlin":   "porsche-club-berlin",
		"  BMW  E30 -- Owners ": "bmw-e30-owners",
		"Mustang_Club.de":       "mustang-club-de",
		"Über Cars!":            "ber-cars",
		"---":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestValidSlug(t *testing.T) {
	assert.True(t, ValidSlug("club-site-1"))
	assert.False(t, ValidSlug("Club Site"))
	assert.False(t, ValidSlug(""))
	assert.False(t, ValidSlug("trailing-"))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, CompareVersions("1.2.0", "1.2"))
	assert.Equal(t, -1, CompareVersions("1.2.3", "1.10.0"))
	assert.Equal(t, 1, CompareVersions("2.0.0-beta", "1.9.9"))
	assert.Equal(t, -1, CompareVersions("", "0.0.1"))
	assert.Equal(t, 0, CompareVersions("v1.4.0", "1.4.0+build.7"))
	assert.Equal(t, -1, CompareVersions("1.4rc1", "1.5"))
}

func TestPasswordRoundTrip(t *testing.T) {
	hashed, err := HashPassword("s3cret!")
	assert.NoError(t, err)
	assert.True(t, CheckPassword(hashed, "s3cret!"))
	assert.False(t, CheckPassword(hashed, "wrong"))
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(0)
	assert.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.Contains(t, codeAlphabet, string(r))
	}
}

func TestSHA256Hex(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", SHA256Hex(""))
}
