// Package seer tags recovered strings that deserve a reviewer's attention:
// network endpoints, credentials, tokens and caller-supplied keywords. Its
// findings are advisory and never change the ranking they were drawn from.
package seer

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RowanDark/unravel/internal/extract"
	"github.com/RowanDark/unravel/internal/findings"
	"github.com/RowanDark/unravel/internal/ranker"
	"github.com/RowanDark/unravel/internal/redact"
	"github.com/RowanDark/unravel/internal/scorer"
)

const detectorName = "seer"

// Finding types.
const (
	TypeWebSocket    = "seer.websocket_endpoint"
	TypeURL          = "seer.url"
	TypeAWSAccessKey = "seer.aws_access_key"
	TypeSlackToken   = "seer.slack_token"
	TypeGenericKey   = "seer.generic_api_key"
	TypeJWT          = "seer.jwt"
	TypeEmail        = "seer.email_address"
	TypeKeyword      = "seer.keyword"
	TypeObfuscated   = "seer.obfuscated_string"
)

var (
	wsRe           = regexp.MustCompile(`\bwss?://[^\s"'<>]+`)
	urlRe          = regexp.MustCompile(`\bhttps?://[^\s"'<>]+`)
	awsAccessKeyRe = regexp.MustCompile(`\b(?:AKIA|ASIA|AGPA|AIDA)[0-9A-Z]{16}\b`)
	slackTokenRe   = regexp.MustCompile(`\bxox(?:b|p|a|r|s)-[0-9A-Za-z-]{10,}\b`)
	genericKeyRe   = regexp.MustCompile(`(?i)(?:api|token|secret|key)[-_ ]*(?:id|key)?\s*[:=]\s*['\"]?([A-Za-z0-9_\-]{16,})['\"]?`)
	jwtRe          = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{5,}\.[A-Za-z0-9_\-]{5,}\.[A-Za-z0-9_\-]{5,}`)
	emailRe        = regexp.MustCompile(`\b[\w.+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// Config controls which strings are tagged.
type Config struct {
	// Allowlist suppresses matches, compared case-insensitively.
	Allowlist []string `json:"allowlist,omitempty" yaml:"allowlist,omitempty"`
	// Keywords tag any string containing one of them.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	// MinKeyEntropy is the raw bits per character a generic key must reach.
	MinKeyEntropy float64 `json:"min_key_entropy" yaml:"min_key_entropy"`
	// FlagObfuscated reports important strings that only a non-identity
	// transform recovered.
	FlagObfuscated bool `json:"flag_obfuscated" yaml:"flag_obfuscated"`

	Now func() time.Time `json:"-" yaml:"-"`
}

// DefaultConfig returns the stock detector settings.
func DefaultConfig() Config {
	return Config{MinKeyEntropy: 3.5, FlagObfuscated: true}
}

type detection struct {
	hit      ranker.Hit
	match    string
	kind     string
	message  string
	evidence string
	severity findings.Severity
	metadata map[string]string
}

// Scan inspects every ranked hit of result and returns findings about the
// interesting ones, ordered by type then offset.
func Scan(target string, result *extract.Result, cfg Config) []findings.Finding {
	if result == nil || len(result.Final) == 0 {
		return nil
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	s := &scan{
		allow:    buildSet(cfg.Allowlist),
		keywords: normaliseKeywords(cfg.Keywords),
		seen:     make(map[string]struct{}),
		cfg:      cfg,
	}
	important := make(map[string]struct{}, len(result.LikelyImportant))
	for _, text := range result.LikelyImportant {
		important[text] = struct{}{}
	}
	for _, hit := range result.Final {
		s.inspect(hit)
		if _, ok := important[hit.Text]; ok && cfg.FlagObfuscated && hit.Transform != "raw" {
			s.add(hit, hit.Text, TypeObfuscated, "String recovered through "+hit.Transform, findings.SeverityInfo, redact.String(hit.Text), nil)
		}
	}

	sort.SliceStable(s.detections, func(i, j int) bool {
		a, b := s.detections[i], s.detections[j]
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		if a.hit.Start != b.hit.Start {
			return a.hit.Start < b.hit.Start
		}
		return a.match < b.match
	})

	ts := findings.NewTimestamp(nowFn())
	out := make([]findings.Finding, 0, len(s.detections))
	for _, det := range s.detections {
		out = append(out, findings.Finding{
			Version:    findings.SchemaVersion,
			ID:         findings.NewID(),
			Detector:   detectorName,
			Type:       det.kind,
			Message:    det.message,
			Target:     target,
			Offset:     det.hit.Start,
			Transform:  det.hit.Transform,
			Evidence:   det.evidence,
			Severity:   det.severity,
			DetectedAt: ts,
			Metadata:   det.metadata,
		})
	}
	return out
}

type scan struct {
	cfg        Config
	allow      map[string]struct{}
	keywords   []string
	seen       map[string]struct{}
	detections []detection
}

func (s *scan) inspect(hit ranker.Hit) {
	text := hit.Text

	for _, match := range wsRe.FindAllString(text, -1) {
		s.add(hit, match, TypeWebSocket, "WebSocket endpoint recovered", findings.SeverityMedium, redact.String(match), endpointMeta(match))
	}
	for _, match := range urlRe.FindAllString(text, -1) {
		s.add(hit, match, TypeURL, "URL recovered", findings.SeverityLow, redact.String(match), endpointMeta(match))
	}
	for _, match := range awsAccessKeyRe.FindAllString(text, -1) {
		s.add(hit, match, TypeAWSAccessKey, "Potential AWS access key recovered", findings.SeverityHigh, redact.Preview(match, 4), nil)
	}
	for _, match := range slackTokenRe.FindAllString(text, -1) {
		s.add(hit, match, TypeSlackToken, "Potential Slack token recovered", findings.SeverityHigh, redact.Preview(match, 5), nil)
	}
	for _, match := range jwtRe.FindAllString(text, -1) {
		s.add(hit, match, TypeJWT, "JWT-shaped token recovered", findings.SeverityHigh, redact.Preview(match, 6), nil)
	}
	for _, groups := range genericKeyRe.FindAllStringSubmatch(text, -1) {
		candidate := groups[1]
		if len(candidate) > 128 || awsAccessKeyRe.MatchString(candidate) || slackTokenRe.MatchString(candidate) {
			continue
		}
		bits := scorer.Entropy(candidate)
		if bits < s.cfg.MinKeyEntropy {
			continue
		}
		s.add(hit, candidate, TypeGenericKey, "High-entropy API key candidate recovered", findings.SeverityMedium, redact.Preview(candidate, 4), map[string]string{
			"entropy": fmt.Sprintf("%.2f", bits),
		})
	}
	for _, match := range emailRe.FindAllString(text, -1) {
		s.add(hit, match, TypeEmail, "Email address recovered", findings.SeverityLow, maskEmail(match), nil)
	}

	lower := strings.ToLower(text)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			s.add(hit, text, TypeKeyword, "String mentions "+strconv.Quote(kw), findings.SeverityInfo, redact.String(text), map[string]string{"keyword": kw})
		}
	}
}

func (s *scan) add(hit ranker.Hit, match, kind, message string, severity findings.Severity, evidence string, metadata map[string]string) {
	match = strings.TrimSpace(match)
	if match == "" {
		return
	}
	if _, ok := s.allow[strings.ToLower(match)]; ok {
		return
	}
	key := kind + "|" + strings.ToLower(match)
	if kind == TypeKeyword {
		key += "|" + metadata["keyword"]
	}
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}

	meta := map[string]string{
		"pattern":      kind,
		"match_length": strconv.Itoa(utf8.RuneCountInString(match)),
		"score":        strconv.FormatFloat(hit.Score, 'f', 3, 64),
	}
	for k, v := range metadata {
		meta[k] = v
	}
	s.detections = append(s.detections, detection{
		hit:      hit,
		match:    match,
		kind:     kind,
		message:  message,
		evidence: evidence,
		severity: severity,
		metadata: meta,
	})
}

func endpointMeta(raw string) map[string]string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return map[string]string{"scheme": u.Scheme, "host": u.Hostname()}
}

func buildSet(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			set[strings.ToLower(trimmed)] = struct{}{}
		}
	}
	return set
}

func normaliseKeywords(entries []string) []string {
	set := buildSet(entries)
	out := make([]string, 0, len(set))
	for kw := range set {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

func maskEmail(value string) string {
	local, domain, ok := strings.Cut(value, "@")
	if !ok {
		return redact.Preview(value, 1)
	}
	runes := []rune(local)
	if len(runes) <= 2 {
		return strings.Repeat("*", len(runes)) + "@" + domain
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1]) + "@" + domain
}
