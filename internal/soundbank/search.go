package soundbank

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the minimum Jaro-Winkler score for a fuzzy match.
const fuzzyThreshold = 0.84

// Find resolves a command word against the catalogue: exact name match
// first, then substring matches, then fuzzy ranking. The result is ordered
// best match first; an empty result means nothing resembled the query.
func Find(sounds []Sound, query string) []Sound {
	query = strings.ToLower(query)

	for _, s := range sounds {
		if strings.ToLower(s.Name) == query {
			return []Sound{s}
		}
	}

	var partial []Sound
	for _, s := range sounds {
		if strings.Contains(strings.ToLower(s.Name), query) {
			partial = append(partial, s)
		}
	}
	if len(partial) > 0 {
		return partial
	}

	type scored struct {
		sound Sound
		score float64
	}
	var fuzzy []scored
	for _, s := range sounds {
		// longTolerance is passed as false to use standard Jaro-Winkler
		// scoring.
		score := matchr.JaroWinkler(query, strings.ToLower(s.Name), false)
		if score >= fuzzyThreshold {
			fuzzy = append(fuzzy, scored{sound: s, score: score})
		}
	}
	slices.SortStableFunc(fuzzy, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	out := make([]Sound, len(fuzzy))
	for i, f := range fuzzy {
		out[i] = f.sound
	}
	return out
}
