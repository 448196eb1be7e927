package factosync

import (
	"strings"
	"unicode"
)

// Minimum length and length ratio for the partial tiers. Short names match
// too easily as substrings, so both bounds gate the partial comparison.
const (
	partialMinLen   = 4
	partialMinRatio = 0.6
)

// Legal-form tokens stripped by the clean tiers. Token-level removal, so
// "sa" only drops when it stands alone.
var legalFormTokens = map[string]bool{
	"sarl": true, "sarlu": true, "sas": true, "sasu": true, "sa": true,
	"eurl": true, "sci": true, "scm": true, "scp": true, "snc": true,
	"selarl": true, "selas": true, "selca": true, "scea": true, "earl": true,
	"gaec": true, "gie": true, "ei": true, "eirl": true,
	"ste": true, "sté": true, "societe": true, "société": true,
	"ets": true, "etablissements": true, "cie": true, "compagnie": true,
}

// normalizeSiren keeps digits only. Registration numbers arrive with spaces
// and sometimes a full SIRET; only the 9-digit SIREN part is comparable.
func normalizeSiren(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 9 {
		digits = digits[:9]
	}
	return digits
}

func sirenEqual(a, b string) bool {
	na, nb := normalizeSiren(a), normalizeSiren(b)
	return na != "" && len(na) == 9 && na == nb
}

// normalizeName lowercases and collapses whitespace.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// cleanName normalizes, replaces punctuation with spaces and drops
// legal-form tokens.
func cleanName(s string) string {
	lowered := strings.ToLower(s)
	var b strings.Builder
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if legalFormTokens[f] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// partialMatch reports whether one normalized name contains the other, with
// the shorter name long enough and close enough in length to be meaningful.
func partialMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) < partialMinLen {
		return false
	}
	if float64(len(shorter))/float64(len(longer)) < partialMinRatio {
		return false
	}
	return strings.Contains(longer, shorter)
}
