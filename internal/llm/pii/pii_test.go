package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailRecognizer(t *testing.T) {
	r := NewEmailRecognizer()
	results := r.Recognize("contact us at support@example.com for help")
	require.Len(t, results, 1)
	assert.Equal(t, "EMAIL_ADDRESS", results[0].EntityType)
	assert.Equal(t, "support@example.com", results[0].Matched)
}

func TestURLRecognizer(t *testing.T) {
	r := NewURLRecognizer()
	results := r.Recognize("see https://example.com/docs for more")
	require.Len(t, results, 1)
	assert.Equal(t, "URL", results[0].EntityType)
}

func TestCreditCardLuhnValidation(t *testing.T) {
	cc := NewCreditCardRecognizer()

	valid := cc.Recognize("my card is 4111111111111111 thanks")
	require.Len(t, valid, 1)
	assert.InDelta(t, 0.85, valid[0].Score, 0.001, "a Luhn-valid number should score high")

	invalid := cc.Recognize("my card is 4111111111111112 thanks")
	assert.Empty(t, invalid, "a Luhn-invalid candidate should be dropped, not just down-scored")
}

func TestUSSSNRecognizer(t *testing.T) {
	r := NewUSSSNRecognizer()
	results := r.Recognize("SSN: 123-45-6789")
	require.NotEmpty(t, results)
	for _, res := range results {
		assert.Equal(t, "SSN", res.EntityType)
	}
}

func TestScanAllFiltersByMinScore(t *testing.T) {
	recognizers := DefaultRecognizers()
	text := "email me at jane@example.com or call 123-45-6789"

	all := ScanAll(recognizers, text, 0)
	high := ScanAll(recognizers, text, 0.8)

	assert.NotEmpty(t, all)
	for _, res := range high {
		assert.GreaterOrEqual(t, res.Score, float32(0.8))
	}
	assert.Greater(t, len(all), len(high))
}

func TestPatternRecognizerName(t *testing.T) {
	r := NewPatternRecognizer("CUSTOM").AddPattern("digits", `\d+`, 0.5)
	assert.Equal(t, "CUSTOM", r.Name())
	results := r.Recognize("order 42 shipped")
	require.Len(t, results, 1)
	assert.Equal(t, "42", results[0].Matched)
}
