package titleparser

import (
	"regexp"
	"strings"
)

// Transform maps a rule's matched text (or its first capture group, when
// the pattern has one) to a canonical value consumed by Apply.
type Transform func(match string) any

// Apply mutates a ParsedTitle with the value a Transform produced.
type Apply func(pt *ParsedTitle, val any)

// Options controls how a single rule interacts with the accumulating
// ParsedTitle and the working title string.
type Options struct {
	// Remove cuts the matched span from the working title so later rules
	// see the shortened string.
	Remove bool
	// SkipIfAlreadyFound skips this rule once its FieldTag already holds
	// a value, letting earlier, more specific rules win over later,
	// generic ones.
	SkipIfAlreadyFound bool
	// SkipIfFirst skips a match that starts at position 0, avoiding
	// consuming a series/movie name that happens to look like metadata.
	SkipIfFirst bool
	// SkipFromTitle records the match but never removes it, even when
	// Remove is also set on the same rule — reserved for rules whose match
	// must stay visible to downstream title-cleanup rules.
	SkipFromTitle bool
}

// Rule is one entry in a Parser's ordered pipeline.
type Rule struct {
	FieldTag  string
	Pattern   *regexp.Regexp
	Transform Transform
	Apply     Apply
	Options   Options
}

// Parser runs a fixed, ordered rule table over raw titles. A Parser holds
// no state besides its rule table and is safe for concurrent use once
// built.
type Parser struct {
	rules []Rule
}

// New builds a Parser with the default rule catalogue.
func New() *Parser {
	p := &Parser{}
	registerDefaults(p)
	return p
}

// AddHandler appends one rule to the end of the pipeline.
func (p *Parser) AddHandler(fieldTag string, pattern *regexp.Regexp, transform Transform, apply Apply, options Options) {
	p.rules = append(p.rules, Rule{
		FieldTag:  fieldTag,
		Pattern:   pattern,
		Transform: transform,
		Apply:     apply,
		Options:   options,
	})
}

// Parse runs every rule in registration order over raw, returning the
// accumulated ParsedTitle (with its residual cleaned Title set).
func (p *Parser) Parse(raw string) *ParsedTitle {
	pt := &ParsedTitle{}
	working := normalizeTitle(raw)

	for _, r := range p.rules {
		if r.Options.SkipIfAlreadyFound && fieldAlreadyFound(pt, r.FieldTag) {
			continue
		}
		loc := r.Pattern.FindStringSubmatchIndex(working)
		if loc == nil {
			continue
		}
		if r.Options.SkipIfFirst && loc[0] == 0 {
			continue
		}

		matched := matchedText(working, loc)
		val := r.Transform(matched)
		if val != nil {
			r.Apply(pt, val)
		}

		if r.Options.Remove && !r.Options.SkipFromTitle {
			working = cutSpan(working, loc[0], loc[1])
		}
	}

	pt.Title = cleanResidual(working)
	return pt
}

// matchedText prefers the first capture group when the pattern defines
// one and it participated in the match; otherwise it returns the whole
// match.
func matchedText(s string, loc []int) string {
	if len(loc) >= 4 && loc[2] >= 0 && loc[3] >= 0 {
		return s[loc[2]:loc[3]]
	}
	return s[loc[0]:loc[1]]
}

func cutSpan(s string, start, end int) string {
	return s[:start] + " " + s[end:]
}

var residualWhitespace = regexp.MustCompile(`\s+`)
var residualSeparators = regexp.MustCompile(`[._]+`)

func cleanResidual(s string) string {
	s = residualSeparators.ReplaceAllString(s, " ")
	s = residualWhitespace.ReplaceAllString(s, " ")
	return strings.Trim(s, " -._[]()")
}

// fieldAlreadyFound reports whether fieldTag's corresponding ParsedTitle
// slot already holds a value, used to implement SkipIfAlreadyFound.
func fieldAlreadyFound(pt *ParsedTitle, fieldTag string) bool {
	switch fieldTag {
	case "year":
		return pt.Year != nil
	case "resolution":
		return pt.Resolution != nil
	case "quality":
		return pt.Quality != nil
	case "codec":
		return pt.Codec != nil
	case "container":
		return pt.Container != nil
	case "group":
		return pt.Group != nil
	case "site":
		return pt.Site != nil
	case "bit_depth":
		return pt.BitDepth != nil
	case "bitrate":
		return pt.Bitrate != nil
	case "country":
		return pt.Country != nil
	case "region":
		return pt.Region != nil
	case "edition":
		return pt.Edition != nil
	case "episode_code":
		return pt.EpisodeCode != nil
	case "size":
		return pt.Size != nil
	case "date":
		return pt.Date != nil
	case "tmdb":
		return pt.TMDB != nil
	case "tvdb":
		return pt.TVDB != nil
	default:
		return false
	}
}
