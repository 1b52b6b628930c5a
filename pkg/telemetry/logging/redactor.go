package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"arbiter-hq/themis/pkg/config"
)

// Redactor masks transaction party names and account-like values in log
// attributes. Identifiers (trace_id, doc_id, transaction_id, task_id) are
// never redacted: they are the join keys operators search by, and they
// carry no personal data.
type Redactor struct {
	maskParties bool
	patterns    []*redactPattern
}

// redactPattern is one compiled value pattern.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in value pattern names.
const (
	PatternEmail   = "email"
	PatternIBAN    = "iban"
	PatternAccount = "account_number"
	PatternAPIKey  = "api_key"
)

// partyKeyTokens mark attribute keys whose value is a transaction party.
var partyKeyTokens = []string{
	"party", "sender", "receiver", "originator",
	"beneficiary", "account_holder",
}

// NewRedactor builds a Redactor. maskParties controls whether party-name
// attributes are masked; custom patterns extend the built-in value
// patterns. Custom patterns that do not compile are skipped.
func NewRedactor(maskParties bool, custom []config.RedactPattern) *Redactor {
	r := &Redactor{maskParties: maskParties}
	r.addDefaultPatterns()

	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Warn("skipping invalid redact pattern", "name", p.Name, "error", err)
			continue
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}
	return r
}

func (r *Redactor) addDefaultPatterns() {
	defaults := []struct {
		name        string
		regex       string
		replacement string
	}{
		{PatternEmail, `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "***@***"},
		{PatternIBAN, `\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`, "IBAN***"},
		// 10 digits and up: card and account numbers, but not dates or
		// amounts.
		{PatternAccount, `\b\d{10,19}\b`, "****"},
		{PatternAPIKey, `sk-[a-zA-Z0-9]+`, "sk-***"},
	}
	for _, d := range defaults {
		r.patterns = append(r.patterns, &redactPattern{
			name:        d.name,
			regex:       regexp.MustCompile(d.regex),
			replacement: d.replacement,
		})
	}
}

// RedactString applies the value patterns to s.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactAttr returns a redacted copy of a log attribute. Group attributes
// are walked recursively; non-string values pass through unchanged.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	if v.Kind() == slog.KindGroup {
		members := v.Group()
		out := make([]slog.Attr, len(members))
		for i, ga := range members {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	if isIdentifierKey(a.Key) {
		return a
	}
	if r.maskParties && isPartyKey(a.Key) {
		return slog.String(a.Key, MaskParty(v.String()))
	}
	if v.Kind() == slog.KindString {
		return slog.String(a.Key, r.RedactString(v.String()))
	}
	return a
}

// isIdentifierKey reports whether a key names an internal identifier that
// must stay searchable.
func isIdentifierKey(key string) bool {
	lower := strings.ToLower(key)
	return lower == "id" || strings.HasSuffix(lower, "_id")
}

// isPartyKey reports whether a key names a transaction party.
func isPartyKey(key string) bool {
	lower := strings.ToLower(key)
	for _, token := range partyKeyTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// MaskParty masks a party name down to its first rune. Empty input stays
// empty so absent fields remain recognizable.
func MaskParty(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return name
	}
	runes := []rune(trimmed)
	return string(runes[0]) + "***"
}
