package manifest

import (
	"fmt"
	"strings"
)

// URITemplate maps a 1-based segment index to the URI written into the playlist.
type URITemplate func(index int) string

// PatternTemplate builds a URITemplate from a printf-style pattern holding
// exactly one integer verb, such as "/media/1080p/segment_%03d.ts".
func PatternTemplate(pattern string) (URITemplate, error) {
	if pattern == "" {
		return nil, fmt.Errorf("segment URI pattern is empty")
	}

	if n := countVerbs(pattern); n != 1 {
		return nil, fmt.Errorf("segment URI pattern %q must contain exactly one verb, found %d", pattern, n)
	}

	// Catches verbs that do not accept an int, like %s or %f.
	if sample := fmt.Sprintf(pattern, 1); strings.Contains(sample, "%!") {
		return nil, fmt.Errorf("segment URI pattern %q does not format an integer: %s", pattern, sample)
	}

	return func(index int) string {
		return fmt.Sprintf(pattern, index)
	}, nil
}

// countVerbs counts formatting verbs, ignoring escaped percent signs.
func countVerbs(pattern string) int {
	n := 0
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' {
			continue
		}
		if i+1 < len(pattern) && pattern[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	return n
}
