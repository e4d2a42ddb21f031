package extractor

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Redeem codes are 8-16 characters of uppercase letters and digits,
// e.g. GENSHINGIFT, VTPU3CQWYCSD, 3TPUKSV8C5X9.
var codePattern = regexp.MustCompile(`\b[A-Z0-9]{8,16}\b`)

// Redemption links carry the code as a query parameter:
// https://genshin.hoyoverse.com/ko/gift?code=GENSHINQUIZ2026
var urlCodePattern = regexp.MustCompile(`(?i)[?&]code=([A-Za-z0-9]+)`)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// defaultExclusions lists frequent 8-16 char uppercase runs that are not
// codes: tech acronyms, platform names, game vocabulary, plain English.
var defaultExclusions = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"HTTPS", "HTTP", "HTML", "CSS", "JSON", "XML", "JAVASCRIPT",
		"YOUTUBE", "TWITTER", "FACEBOOK", "INSTAGRAM", "DISCORD",
		"GOOGLE", "CHROME", "FIREFOX", "SAFARI", "WINDOWS", "ANDROID",
		"GENSHIN", "IMPACT", "STARRAIL", "HONKAI", "MIHOYO", "HOYOVERSE",
		"ZENLESS", "ZONEZERO", "TEYVAT", "FONTAINE", "SUMERU", "INAZUMA",
		"SPREADSHEETS", "SPREADSHEET", "DOWNLOAD", "UPLOADED", "COMMUNITY",
		"OFFICIAL", "INFORMATION", "REDEEM", "REDEMPTION", "PRIMOGEMS",
		"CHARACTER", "CHARACTERS", "CONSTELLATION", "CONSTELLATIONS",
		"ANNIVERSARY", "LIVESTREAM", "BROADCAST", "MAINTENANCE",
		"INTERTWINED", "ACQUAINT", "STARDUST", "STARGLITTER",
		"ADVENTURE", "TRAVELERS", "TRAVELER", "BLESSING", "WELKIN",
		"GENESIS", "CRYSTALS", "RESIN", "FRAGILE", "ORIGINAL",
		"ARTIFACT", "ARTIFACTS", "WEAPON", "WEAPONS", "DOMAIN",
		"COMMISSION", "COMMISSIONS", "REPUTATION", "EXPLORATION",
		"ABYSS", "SPIRAL", "FLOOR", "CHAMBER", "VERSION", "UPDATE",
		"PREMIUM", "SUBSCRIPTION", "PURCHASE", "PAYMENT", "REWARD",
	} {
		defaultExclusions[w] = struct{}{}
	}
}

// markerWords allow letters-only codes through the validator when embedded
// in the candidate, e.g. GENSHINGIFT or STARRAILCODE.
var markerWords = []string{"GIFT", "CODE", "REWARD", "FREE", "BONUS"}

// Extractor finds redeem codes in free text.
// The zero value is not usable; call New.
type Extractor struct {
	exclusions map[string]struct{}
}

// New creates an extractor with the default exclusion list.
func New() *Extractor {
	return &Extractor{exclusions: defaultExclusions}
}

// NewWithExclusions creates an extractor with an additional set of excluded
// words on top of the defaults.
func NewWithExclusions(extra []string) *Extractor {
	ex := make(map[string]struct{}, len(defaultExclusions)+len(extra))
	for w := range defaultExclusions {
		ex[w] = struct{}{}
	}
	for _, w := range extra {
		ex[strings.ToUpper(w)] = struct{}{}
	}
	return &Extractor{exclusions: ex}
}

// ExtractFromLinks returns the code= query-parameter values found in text,
// uppercased. These occurrences are trusted: they bypass the validator and
// the exclusion list.
func (e *Extractor) ExtractFromLinks(text string) []string {
	if text == "" {
		return nil
	}

	var codes []string
	for _, m := range urlCodePattern.FindAllStringSubmatch(text, -1) {
		codes = append(codes, strings.ToUpper(m[1]))
	}
	return codes
}

// Extract returns the distinct validated codes found in text, sorted
// ascending. URL-embedded codes are pre-validated; all other candidates go
// through the exclusion list and the validator.
func (e *Extractor) Extract(text string) []string {
	if text == "" {
		return nil
	}

	textUpper := strings.ToUpper(text)

	preValidated := make(map[string]struct{})
	for _, code := range e.ExtractFromLinks(text) {
		// Keep the output shape uniform even for trusted link codes.
		if len(code) >= 8 && len(code) <= 16 {
			preValidated[code] = struct{}{}
		}
	}

	found := make(map[string]struct{})
	for code := range preValidated {
		found[code] = struct{}{}
	}
	for _, m := range codePattern.FindAllString(textUpper, -1) {
		found[m] = struct{}{}
	}

	var result []string
	for code := range found {
		if _, ok := preValidated[code]; ok {
			result = append(result, code)
			continue
		}
		if _, excluded := e.exclusions[code]; excluded {
			continue
		}
		if isValidCode(code) {
			result = append(result, code)
		}
	}

	sort.Strings(result)
	return result
}

// ExtractFromHTML strips tags and extracts codes from the remaining text.
func (e *Extractor) ExtractFromHTML(html string) []string {
	return e.Extract(htmlTagPattern.ReplaceAllString(html, " "))
}

// isValidCode applies the false-positive heuristic to a candidate that did
// not come from a redemption URL. Codes are near-random alphanumerics, so
// pure-digit and pure-letter runs are rejected unless a marker word vouches
// for a letters-only candidate.
func isValidCode(code string) bool {
	allDigits := true
	hasLetter := false
	hasDigit := false
	for _, r := range code {
		if unicode.IsDigit(r) {
			hasDigit = true
		} else {
			allDigits = false
			if unicode.IsLetter(r) {
				hasLetter = true
			}
		}
	}

	if allDigits {
		return false
	}

	if len(code) < 10 {
		return false
	}

	// Masked phone/account numbers like 010XXXXXXXX match the shape.
	if strings.Contains(code, "XXXX") {
		return false
	}

	if hasLetter && hasDigit {
		return true
	}

	if hasLetter {
		for _, marker := range markerWords {
			if strings.Contains(code, marker) && code != marker {
				return true
			}
		}
	}

	return false
}
