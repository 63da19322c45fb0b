package media

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Provider search misses are usually artifacts of how the title was written
// on disk, not of the provider catalog. TitleVariants widens the query set
// and BestMatch picks the candidate most similar to the wanted title.

const (
	// matchThreshold is the minimum normalized similarity for BestMatch.
	matchThreshold = 0.5
	// yearBonus is added to a candidate's score when its year matches.
	yearBonus = 0.15
)

var (
	parenRe = regexp.MustCompile(`\s*\([^)]*\)`)
	punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spaceRe = regexp.MustCompile(`\s+`)

	articles = []string{"the ", "a ", "an "}

	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// TitleVariants expands a source title into the query strings tried against
// providers, in order: original, parenthetical-stripped, article-stripped,
// pre-colon prefix, punctuation-stripped. Duplicates and empties are
// dropped, order preserved.
func TitleVariants(title string) []string {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}

	candidates := []string{title}

	if stripped := strings.TrimSpace(parenRe.ReplaceAllString(title, "")); stripped != "" {
		candidates = append(candidates, stripped)
	}

	lower := strings.ToLower(title)
	for _, article := range articles {
		if strings.HasPrefix(lower, article) {
			candidates = append(candidates, strings.TrimSpace(title[len(article):]))
			break
		}
	}

	if idx := strings.Index(title, ":"); idx > 0 {
		candidates = append(candidates, strings.TrimSpace(title[:idx]))
	}

	if stripped := strings.TrimSpace(spaceRe.ReplaceAllString(punctRe.ReplaceAllString(title, " "), " ")); stripped != "" {
		candidates = append(candidates, stripped)
	}

	seen := make(map[string]struct{}, len(candidates))
	variants := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup || c == "" {
			continue
		}
		seen[key] = struct{}{}
		variants = append(variants, c)
	}
	return variants
}

// NormalizeTitle lowercases, strips diacritics and punctuation, and
// collapses whitespace for comparison.
func NormalizeTitle(title string) string {
	if folded, _, err := transform.String(stripMarks, title); err == nil {
		title = folded
	}
	title = strings.ToLower(title)
	title = punctRe.ReplaceAllString(title, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(title, " "))
}

// Similarity returns the normalized edit-distance similarity of two titles
// in [0,1].
func Similarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(na, nb, false)
	distance := dmp.DiffLevenshtein(diffs)

	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	return 1 - float64(distance)/float64(longest)
}

// BestMatch scores candidates against the wanted title and year and returns
// the best one, or nil when no candidate reaches the similarity threshold.
// A matching year adds a bonus so remakes rank below the right release.
func BestMatch(candidates []Candidate, title string, year int) *Candidate {
	var best *Candidate
	bestScore := 0.0

	for i := range candidates {
		c := candidates[i]
		score := Similarity(title, c.Title)
		if score < matchThreshold {
			continue
		}
		if year > 0 && c.Year == year {
			score += yearBonus
		}
		if best == nil || score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	return best
}
