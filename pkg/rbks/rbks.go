// Package rbks implements the RBKS v2 structured key grammar:
// ns.h1...hn<mod,mod> with 2-8 total segments and a bounded
// modifier vocabulary partitioned by category. Hand-written, manual
// rune scanning with no parser-generator dependency, since no ecosystem
// grammar library targets this bracket-suffix grammar.
package rbks

import (
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// MinDepth and MaxDepth bound the number of dot-separated segments,
// namespace included.
const (
	MinDepth = 2
	MaxDepth = 8
)

// isLanguageCode reports whether mod is a recognised ISO 639-1 base
// language subtag (two lowercase letters): "en", "zh", but not a
// three-letter code like "fil" or a region variant like "en-US".
func isLanguageCode(mod string) bool {
	if len(mod) != 2 {
		return false
	}
	tag, err := language.Parse(mod)
	if err != nil {
		return false
	}
	base, conf := tag.Base()
	return conf != language.No && base.String() == mod
}

var environments = map[string]bool{"dev": true, "prod": true, "staging": true, "test": true}
var seasons = map[string]bool{"christmas": true, "easter": true, "summer": true, "winter": true}
var variants = map[string]bool{"mobile": true, "desktop": true, "tablet": true}

// Key is a parsed, categorized RBKS v2 key.
type Key struct {
	Namespace   string
	Hierarchy   []string
	Language    string
	Environment string
	Season      string
	Variant     string
	Custom      []string
}

// Segments returns namespace followed by the hierarchy segments, the
// depth-countable part of the key.
func (k Key) Segments() []string {
	return append([]string{k.Namespace}, k.Hierarchy...)
}

// String renders k in canonical normalised form.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Namespace)
	for _, s := range k.Hierarchy {
		b.WriteByte('.')
		b.WriteString(s)
	}
	mods := k.sortedMods()
	if len(mods) > 0 {
		b.WriteByte('<')
		b.WriteString(strings.Join(mods, ","))
		b.WriteByte('>')
	}
	return b.String()
}

func (k Key) sortedMods() []string {
	var mods []string
	if k.Language != "" {
		mods = append(mods, k.Language)
	}
	if k.Environment != "" {
		mods = append(mods, k.Environment)
	}
	if k.Season != "" {
		mods = append(mods, k.Season)
	}
	if k.Variant != "" {
		mods = append(mods, k.Variant)
	}
	mods = append(mods, k.Custom...)
	sort.Strings(mods)
	return dedupe(mods)
}

func dedupe(in []string) []string {
	out := in[:0]
	var last string
	first := true
	for _, s := range in {
		if first || s != last {
			out = append(out, s)
			last = s
			first = false
		}
	}
	return out
}

// Parse validates raw against the RBKS v2 grammar and returns its
// categorized form. raw is expected to already be normalised; callers
// that want tolerant parsing should call Normalize first.
func Parse(raw string) (Key, error) {
	body, modGroup, err := splitModifiers(raw)
	if err != nil {
		return Key{}, err
	}

	segments := strings.Split(body, ".")
	if len(segments) < MinDepth || len(segments) > MaxDepth {
		return Key{}, reederr.New(reederr.KindInvalidKey,
			"key depth must be between 2 and 8 segments").WithHint(raw)
	}
	for _, seg := range segments {
		if !isValidSegment(seg) {
			return Key{}, reederr.New(reederr.KindInvalidKey,
				"segment must start with a lowercase letter and contain only lowercase letters and digits").
				WithHint(seg)
		}
	}

	k := Key{Namespace: segments[0], Hierarchy: segments[1:]}
	if err := k.assignModifiers(modGroup); err != nil {
		return Key{}, err
	}
	return k, nil
}

func splitModifiers(raw string) (body string, mods []string, err error) {
	openIdx := strings.IndexByte(raw, '<')
	if openIdx < 0 {
		return raw, nil, nil
	}
	if !strings.HasSuffix(raw, ">") {
		return "", nil, reederr.New(reederr.KindInvalidKey, "unterminated modifier group").WithHint(raw)
	}
	body = raw[:openIdx]
	inner := raw[openIdx+1 : len(raw)-1]
	if inner == "" {
		return "", nil, reederr.New(reederr.KindInvalidKey, "empty modifier group").WithHint(raw)
	}
	if strings.HasSuffix(inner, ",") || strings.HasPrefix(inner, ",") {
		return "", nil, reederr.New(reederr.KindInvalidKey, "stray comma in modifier group").WithHint(raw)
	}
	parts := strings.Split(inner, ",")
	for _, p := range parts {
		if p == "" {
			return "", nil, reederr.New(reederr.KindInvalidKey, "empty modifier token").WithHint(raw)
		}
		if !isValidSegment(p) {
			return "", nil, reederr.New(reederr.KindInvalidKey, "modifier must be lowercase alphanumeric").WithHint(p)
		}
	}
	return body, parts, nil
}

func isValidSegment(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (k *Key) assignModifiers(mods []string) error {
	seen := map[string]string{}
	for _, m := range mods {
		category := categoryOf(m)
		if category == "custom" {
			k.Custom = append(k.Custom, m)
			continue
		}
		if prev, ok := seen[category]; ok {
			return reederr.New(reederr.KindInvalidKey, "duplicate "+category+" modifier").
				WithHint(prev + ", " + m)
		}
		seen[category] = m
		switch category {
		case "language":
			k.Language = m
		case "environment":
			k.Environment = m
		case "season":
			k.Season = m
		case "variant":
			k.Variant = m
		}
	}
	return nil
}

func categoryOf(mod string) string {
	switch {
	case isLanguageCode(mod):
		return "language"
	case environments[mod]:
		return "environment"
	case seasons[mod]:
		return "season"
	case variants[mod]:
		// variant is excluded from the fallback chain but still a
		// single-slot category for duplicate detection.
		return "variant"
	default:
		return "custom"
	}
}

// Validate reports whether raw is a syntactically and semantically
// valid RBKS v2 key.
func Validate(raw string) error {
	_, err := Parse(raw)
	return err
}

// Normalize lowercases, trims, collapses duplicate dots, and re-renders
// raw in canonical sorted-modifier form. Normalize is idempotent: calling
// it twice yields the same string.
func Normalize(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	trimmed = collapseDots(trimmed)
	k, err := Parse(trimmed)
	if err != nil {
		return "", err
	}
	return k.String(), nil
}

func collapseDots(s string) string {
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	return s
}

// FallbackChain returns, in priority order, the keys to try when
// resolving a localized/contextualized value: the exact key, then keys
// with season, environment, and language progressively dropped (in that
// order), ending at the bare namespace.hierarchy key. Variant and custom
// modifiers are never dropped from the chain; they are carried on every
// entry. At most 8 entries are produced.
func FallbackChain(k Key) []string {
	type step struct{ dropSeason, dropEnv, dropLang bool }
	steps := []step{
		{false, false, false},
		{true, false, false},
		{true, true, false},
		{true, true, true},
	}
	seen := map[string]bool{}
	var chain []string
	for _, s := range steps {
		variant := k
		if s.dropSeason {
			variant.Season = ""
		}
		if s.dropEnv {
			variant.Environment = ""
		}
		if s.dropLang {
			variant.Language = ""
		}
		str := variant.String()
		if !seen[str] {
			seen[str] = true
			chain = append(chain, str)
		}
	}
	return chain
}
