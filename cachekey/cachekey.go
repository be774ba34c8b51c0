// Package cachekey derives deterministic narrative cache keys from a profile.
//
// A key has the shape
//
//	{prefix}:v{major}:{engineVersion}:{promptHash10}:{profileSHA1}
//
// Two profiles that differ only in map ordering, in percentage jitter inside a
// quantization bucket or in the order of their defined centers produce the
// same key. Bumping the engine major version moves every key into a new
// namespace.
package cachekey

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/starsorter/narrative-cache/profile"
)

const (
	// DefaultPrefix is the namespace used when Options.Prefix is empty.
	DefaultPrefix = "narr"
	// DefaultQuantizeStep is the percentage bucket width.
	DefaultQuantizeStep = 0.5
	// PromptHashLength is the number of prompt hash characters kept in a key.
	PromptHashLength = 10
)

// Options are the non-profile inputs of a key.
type Options struct {
	EngineVersion string
	PromptHash    string
	Prefix        string
	QuantizeStep  float64
}

var majorRe = regexp.MustCompile(`@(\d+)\.`)

// MajorVersion extracts MAJOR from "name@MAJOR.MINOR.PATCH", defaulting to "1".
func MajorVersion(engineVersion string) string {
	m := majorRe.FindStringSubmatch(engineVersion)
	if m == nil {
		return "1"
	}
	return m[1]
}

// Quantize rounds value to the nearest multiple of step, halves rounding up.
// A non-positive step falls back to DefaultQuantizeStep.
func Quantize(value, step float64) float64 {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		step = DefaultQuantizeStep
	}
	return math.Floor(value/step+0.5) * step
}

// NormalizePromptHash lowercases h and keeps at most PromptHashLength characters.
func NormalizePromptHash(h string) string {
	h = strings.ToLower(h)
	if len(h) > PromptHashLength {
		h = h[:PromptHashLength]
	}
	return h
}

// Canonical returns the normalized form of p that is hashed into a key.
func Canonical(p profile.Request, step float64) map[string]any {
	percentages := make(map[string]any, len(p.Percentages))
	for system, pct := range p.Percentages {
		percentages[system] = Quantize(pct, step)
	}

	centers := make([]string, len(p.HDData.Centers))
	copy(centers, p.HDData.Centers)
	sort.Strings(centers)

	canonical := map[string]any{
		"classification": string(p.Classification),
		"percentages":    percentages,
		"hdData": map[string]any{
			"type":      p.HDData.Type,
			"authority": p.HDData.Authority,
			"profile":   p.HDData.Profile,
			"centers":   centers,
			"gateCount": len(p.HDData.Gates),
		},
	}
	if p.Primary != "" {
		canonical["primary"] = p.Primary
	}
	if p.Hybrid != nil {
		canonical["hybrid"] = []string{p.Hybrid[0], p.Hybrid[1]}
	}
	return canonical
}

// ProfileHash is the 40 character SHA-1 of the canonical profile.
func ProfileHash(p profile.Request, step float64) string {
	sum := sha1.Sum([]byte(StableStringify(Canonical(p, step))))
	return hex.EncodeToString(sum[:])
}

// Derive builds the cache key for p. It never fails.
func Derive(p profile.Request, opts Options) string {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(":v")
	sb.WriteString(MajorVersion(opts.EngineVersion))
	sb.WriteByte(':')
	sb.WriteString(opts.EngineVersion)
	sb.WriteByte(':')
	sb.WriteString(NormalizePromptHash(opts.PromptHash))
	sb.WriteByte(':')
	sb.WriteString(ProfileHash(p, opts.QuantizeStep))
	return sb.String()
}

// LockKey is the stampede mutex for key.
func LockKey(key string) string { return "lock:" + key }

// RefreshKey is the background refresh mutex for key.
func RefreshKey(key string) string { return "refresh:" + key }

// NegativeKey holds the negative cache entry for key.
func NegativeKey(key string) string { return "neg:" + key }

// HashPrompt fingerprints the prompt construction so that editing a prompt
// invalidates every key built with the old one.
func HashPrompt(systemPrompt, userPromptTemplate string) string {
	sum := sha1.Sum([]byte(systemPrompt + "\n---\n" + userPromptTemplate))
	return hex.EncodeToString(sum[:])[:PromptHashLength]
}
