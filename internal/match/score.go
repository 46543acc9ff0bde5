package match

import "github.com/Tarun-Chowdary/CampusWhisper/internal/profile"

// Mode selects how candidates are ranked.
type Mode string

const (
	// ModeSameCollege boosts candidates from the requester's college.
	ModeSameCollege Mode = "same-college"
	// ModeAny ranks across all colleges.
	ModeAny Mode = "any"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeSameCollege || m == ModeAny
}

// Score ranks how well two profiles fit. Higher is better. Opposite gender
// carries the strongest base weight; the same-college boost only applies in
// ModeSameCollege; shared interests and preferences add smaller increments.
func Score(a, b profile.Profile, mode Mode) int {
	score := 0

	if a.Gender != "" && b.Gender != "" && a.Gender != b.Gender {
		score += 40
	}

	if mode == ModeSameCollege && a.College != "" && b.College != "" && a.College == b.College {
		score += 50
	}

	score += 10 * countCommon(a.Interests, b.Interests)
	score += 5 * countCommon(a.Preferences, b.Preferences)

	return score
}

func countCommon(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	n := 0
	for _, v := range a {
		if _, ok := set[v]; ok {
			n++
		}
	}
	return n
}
