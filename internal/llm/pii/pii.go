// Package pii implements the PII recognizers named in spec.md section
// 4.6: pattern-based span detectors for URL, email, phone, credit card
// (Luhn-validated), and US SSN, producing tagged spans that downstream
// policies threshold/mask/block/log. Recognition is best-effort and
// allowed to over-report (spec.md: "callers apply score thresholds"),
// grounded on
// _examples/original_source/crates/agentgateway/src/llm/pii/{pattern_recognizer,
// credit_card_recognizer, email_recognizer, us_ssn_recognizer,
// phone_recognizer}.rs.
package pii

import "regexp"

// Result is one recognized span (spec.md section 4.6 "produce tagged
// spans (entity type, offset, score)").
type Result struct {
	EntityType string
	Matched    string
	Start, End int
	Score      float32
}

// Recognizer scans text for spans of its entity type.
type Recognizer interface {
	Recognize(text string) []Result
	Name() string
}

// pattern is one named regex + base score, mirrored on the teacher's
// Pattern struct.
type pattern struct {
	name  string
	regex *regexp.Regexp
	score float32
}

// PatternRecognizer runs an ordered list of regex patterns against text
// and emits one Result per match, tagged with a shared entity type
// (grounded on PatternRecognizer in pattern_recognizer.rs).
type PatternRecognizer struct {
	entityType string
	patterns   []pattern
}

// NewPatternRecognizer builds an empty recognizer for entityType; call
// AddPattern to register match rules.
func NewPatternRecognizer(entityType string) *PatternRecognizer {
	return &PatternRecognizer{entityType: entityType}
}

// AddPattern registers a named regex with its confidence score. Invalid
// regex panics at construction time (config-load time in the teacher's
// equivalent), since patterns are compiled once and never vary per
// request.
func (r *PatternRecognizer) AddPattern(name, expr string, score float32) *PatternRecognizer {
	r.patterns = append(r.patterns, pattern{name: name, regex: regexp.MustCompile(expr), score: score})
	return r
}

func (r *PatternRecognizer) Name() string { return r.entityType }

func (r *PatternRecognizer) Recognize(text string) []Result {
	var out []Result
	for _, p := range r.patterns {
		for _, loc := range p.regex.FindAllStringIndex(text, -1) {
			out = append(out, Result{
				EntityType: r.entityType,
				Matched:    text[loc[0]:loc[1]],
				Start:      loc[0],
				End:        loc[1],
				Score:      p.score,
			})
		}
	}
	return out
}

// NewEmailRecognizer matches the teacher's EmailRecognizer pattern set.
func NewEmailRecognizer() *PatternRecognizer {
	return NewPatternRecognizer("EMAIL_ADDRESS").
		AddPattern("standard_email", `[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`, 0.85)
}

// NewUSSSNRecognizer matches the teacher's UsSsnRecognizer pattern set,
// including its deliberately weak/ambiguous fallback patterns.
func NewUSSSNRecognizer() *PatternRecognizer {
	r := NewPatternRecognizer("SSN")
	r.AddPattern("ssn1_weak", `\b([0-9]{5})-([0-9]{4})\b`, 0.05)
	r.AddPattern("ssn2_weak", `\b([0-9]{3})-([0-9]{6})\b`, 0.05)
	r.AddPattern("ssn3_weak", `\b(([0-9]{3})-([0-9]{2})-([0-9]{4}))\b`, 0.05)
	r.AddPattern("ssn4_weak", `\b[0-9]{9}\b`, 0.05)
	r.AddPattern("ssn5_medium", `\b([0-9]{3})[- .]([0-9]{2})[- .]([0-9]{4})\b`, 0.5)
	return r
}

// NewURLRecognizer is the generic URL span detector named in spec.md
// section 4.6.
func NewURLRecognizer() *PatternRecognizer {
	return NewPatternRecognizer("URL").
		AddPattern("url", `https?://[^\s"'<>]+`, 0.6)
}

// CreditCardRecognizer wraps the candidate-number pattern match with a
// Luhn check (spec.md section 4.6 "credit card (Luhn-validated)") —
// Luhn validation is the one place this module's recognizer diverges
// from the teacher's, which leaves the validator unimplemented
// (commented out in pattern_recognizer.rs); spec.md explicitly requires
// it, so it is implemented here.
type CreditCardRecognizer struct {
	inner *PatternRecognizer
}

func NewCreditCardRecognizer() *CreditCardRecognizer {
	r := NewPatternRecognizer("CREDIT_CARD")
	r.AddPattern("visa", `\b4\d{3}[- ]?(\d{3,4})[- ]?(\d{3,4})[- ]?(\d{3,5})\b`, 0.3)
	r.AddPattern("mastercard", `\b5[0-5]\d{2}[- ]?(\d{3,4})[- ]?(\d{3,4})[- ]?(\d{3,5})\b`, 0.3)
	r.AddPattern("discover", `\b6\d{3}[- ]?(\d{3,4})[- ]?(\d{3,4})[- ]?(\d{3,5})\b`, 0.3)
	r.AddPattern("amex", `\b3\d{3}[- ]?(\d{3,4})[- ]?(\d{3,4})[- ]?(\d{3,5})\b`, 0.3)
	r.AddPattern("diners", `\b1\d{3}[- ]?(\d{3,4})[- ]?(\d{3,4})[- ]?(\d{4,5})\b`, 0.3)
	return &CreditCardRecognizer{inner: r}
}

func (r *CreditCardRecognizer) Name() string { return "CREDIT_CARD" }

func (r *CreditCardRecognizer) Recognize(text string) []Result {
	results := r.inner.Recognize(text)
	out := make([]Result, 0, len(results))
	for _, res := range results {
		if luhnValid(res.Matched) {
			res.Score = 0.85
			out = append(out, res)
		}
	}
	return out
}

func luhnValid(candidate string) bool {
	digits := make([]int, 0, len(candidate))
	for _, c := range candidate {
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}
	if len(digits) < 12 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// PhoneRecognizer matches a simplified version of the teacher's
// libphonenumber-derived _PATTERN regex (phone_recognizer.rs) — the
// international-separator character class, without the
// full-sliding-window per-region validation pass, since that requires
// a phonenumber metadata library not in this module's dependency set.
type PhoneRecognizer struct {
	inner *PatternRecognizer
}

func NewPhoneRecognizer() *PhoneRecognizer {
	r := NewPatternRecognizer("PHONE_NUMBER")
	r.AddPattern("intl", `(?:\+\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`, 0.4)
	return &PhoneRecognizer{inner: r}
}

func (r *PhoneRecognizer) Name() string                     { return "PHONE_NUMBER" }
func (r *PhoneRecognizer) Recognize(text string) []Result { return r.inner.Recognize(text) }

// DefaultRecognizers returns the full recognizer set spec.md section
// 4.6 names.
func DefaultRecognizers() []Recognizer {
	return []Recognizer{
		NewURLRecognizer(),
		NewEmailRecognizer(),
		NewPhoneRecognizer(),
		NewCreditCardRecognizer(),
		NewUSSSNRecognizer(),
	}
}

// ScanAll runs every recognizer in rs against text and returns every
// result at or above minScore (spec.md: "callers apply score
// thresholds").
func ScanAll(rs []Recognizer, text string, minScore float32) []Result {
	var out []Result
	for _, r := range rs {
		for _, res := range r.Recognize(text) {
			if res.Score >= minScore {
				out = append(out, res)
			}
		}
	}
	return out
}
