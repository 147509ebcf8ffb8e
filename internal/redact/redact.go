// Package redact masks credentials and personal data before strings leave
// the process through logs, journals or findings.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	neverPersistKey = "never_persist"
	redactedSecret  = "[REDACTED_SECRET]"
	redactedEmail   = "[REDACTED_EMAIL]"
)

var (
	emailRe     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	kvSecretRe  = regexp.MustCompile(`(?i)((?:api|token|secret|key|password|passwd|pwd)[-_ ]*(?:id|key|token)?\s*[:=]\s*)(['\"]?)([A-Za-z0-9+/=_\-]{8,})(['\"]?)`)
	bearerRe    = regexp.MustCompile(`(?i)\b(bearer|token)\s+([A-Za-z0-9._\-]{10,})`)
	jwtRe       = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{5,}\.[A-Za-z0-9_\-]{5,}\.[A-Za-z0-9_\-]{5,}`)
	awsKeyRe    = regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)
	longTokenRe = regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`)
)

// String redacts common secret patterns and PII from in.
func String(in string) string {
	if strings.TrimSpace(in) == "" {
		return in
	}
	masked := emailRe.ReplaceAllString(in, redactedEmail)
	masked = jwtRe.ReplaceAllString(masked, redactedSecret)
	masked = awsKeyRe.ReplaceAllString(masked, redactedSecret)
	masked = kvSecretRe.ReplaceAllString(masked, `$1$2`+redactedSecret+`$4`)
	masked = bearerRe.ReplaceAllString(masked, `$1 `+redactedSecret)
	masked = longTokenRe.ReplaceAllString(masked, redactedSecret)
	return masked
}

// Preview keeps the first keep characters of a secret and masks the rest,
// so a reviewer can recognise a value without it being persisted.
func Preview(secret string, keep int) string {
	runes := []rune(secret)
	if keep < 0 {
		keep = 0
	}
	if len(runes) <= keep*2 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:keep]) + strings.Repeat("*", len(runes)-keep)
}

// Interface redacts recognised sensitive values within nested structures.
func Interface(value any) any {
	switch v := value.(type) {
	case string:
		return String(v)
	case fmt.Stringer:
		return String(v.String())
	case []string:
		return Slice(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = Interface(elem)
		}
		return out
	case map[string]string:
		return MapString(v)
	case map[string]any:
		return Map(v)
	default:
		return value
	}
}

// Map redacts every value of in. Keys listed under "never_persist" are
// replaced outright and the list itself is dropped.
func Map(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	var masked []string
	for k, v := range in {
		if strings.EqualFold(k, neverPersistKey) {
			masked = append(masked, neverPersistList(v)...)
			continue
		}
		out[k] = Interface(v)
	}
	for _, key := range masked {
		if _, ok := out[key]; ok {
			out[key] = redactedSecret
		}
	}
	return out
}

// MapString is Map for string values.
func MapString(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	var masked []string
	for k, v := range in {
		if strings.EqualFold(k, neverPersistKey) {
			masked = append(masked, splitList(v)...)
			continue
		}
		out[k] = String(v)
	}
	for _, key := range masked {
		if _, ok := out[key]; ok {
			out[key] = redactedSecret
		}
	}
	return out
}

// Slice redacts sensitive values within a slice of strings.
func Slice(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = String(v)
	}
	return out
}

func neverPersistList(value any) []string {
	switch v := value.(type) {
	case string:
		return splitList(v)
	case []string:
		return trimAll(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			out = append(out, fmt.Sprint(elem))
		}
		return trimAll(out)
	default:
		return nil
	}
}

func splitList(value string) []string {
	return trimAll(strings.Split(value, ","))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
