// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package clean

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/govsense/govsense/internal/registry"
)

// deaccent builds the diacritic folding chain. The chained transformer
// carries per-use state and transform.String resets it, so callers must
// not share one instance.
func deaccent() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizeName canonicalizes a header name: lowercase, trimmed,
// diacritics folded, every run of non-alphanumeric characters collapsed
// to a single underscore. "Libellé Budget " and "libelle_budget" map to
// the same name.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(deaccent(), s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		} else {
			pendingSep = true
		}
	}
	return b.String()
}

// coerce parses a non-empty trimmed value into the column's Go type.
func coerce(t registry.SemanticType, raw string) (interface{}, error) {
	switch t {
	case registry.TypeInteger:
		return coerceInteger(raw)
	case registry.TypeDecimal:
		return coerceDecimal(raw)
	case registry.TypeMonth:
		return coerceMonth(raw)
	default:
		return raw, nil
	}
}

func coerceInteger(raw string) (interface{}, error) {
	v, err := strconv.ParseInt(stripNumericNoise(raw), 10, 64)
	if err != nil {
		// Integer columns in source exports sometimes carry a trailing
		// ".0"; accept a decimal form when it is a whole number.
		f, ferr := strconv.ParseFloat(normalizeDecimal(raw), 64)
		if ferr != nil || f != float64(int64(f)) {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return int64(f), nil
	}
	return v, nil
}

func coerceDecimal(raw string) (interface{}, error) {
	v, err := strconv.ParseFloat(normalizeDecimal(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("not a decimal: %q", raw)
	}
	return v, nil
}

// coerceMonth accepts YYYY-MM, YYYY/MM and full dates (YYYY-MM-DD),
// normalizing to YYYY-MM.
func coerceMonth(raw string) (interface{}, error) {
	s := strings.ReplaceAll(raw, "/", "-")
	if len(s) > 7 {
		s = s[:7]
	}
	if len(s) != 7 || s[4] != '-' {
		return nil, fmt.Errorf("not a month: %q", raw)
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil || year < 1900 || year > 2200 {
		return nil, fmt.Errorf("not a month: %q", raw)
	}
	month, err := strconv.Atoi(s[5:7])
	if err != nil || month < 1 || month > 12 {
		return nil, fmt.Errorf("not a month: %q", raw)
	}
	return s, nil
}

// normalizeDecimal converts French numeric conventions to Go's parser:
// comma decimal separator, space or non-breaking space thousand groups.
func normalizeDecimal(raw string) string {
	return strings.ReplaceAll(stripNumericNoise(raw), ",", ".")
}

func stripNumericNoise(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ':
			return -1
		}
		return r
	}, raw)
}
