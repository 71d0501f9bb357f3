package analytics

import (
	"fmt"
	"time"
)

// Category identifies one advisory feedback rule. Each category has its own
// cooldown.
type Category int

const (
	CategoryTopSqueeze Category = iota
	CategoryGoodCurl
	CategoryStartingPosition
	CategoryShoulderStability
	CategoryElbowPosition
	numCategories
)

// Categories lists every feedback category in rule order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := Category(0); c < numCategories; c++ {
		out = append(out, c)
	}
	return out
}

func (c Category) String() string {
	switch c {
	case CategoryTopSqueeze:
		return "top_squeeze"
	case CategoryGoodCurl:
		return "good_curl"
	case CategoryStartingPosition:
		return "starting_position"
	case CategoryShoulderStability:
		return "shoulder_stability"
	case CategoryElbowPosition:
		return "elbow_position"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Message is the advisory text spoken for the category.
func (c Category) Message() string {
	switch c {
	case CategoryTopSqueeze:
		return "Great! Full range of motion at the top."
	case CategoryGoodCurl:
		return "Good curl! Try to squeeze a bit more at the top."
	case CategoryStartingPosition:
		return "Good starting position. Keep your core tight."
	case CategoryShoulderStability:
		return "Keep your shoulders stable. Avoid swinging."
	case CategoryElbowPosition:
		return "Keep your elbows close to your body."
	default:
		return ""
	}
}

// emission is the last time one category fired. ok separates "never" from an
// emission at the zero time.
type emission struct {
	at time.Time
	ok bool
}

// Throttle records the last emission time of every category. The zero value
// has never emitted anything. It is a value type so SessionState copies stay
// independent.
type Throttle [numCategories]emission

// Allow reports whether category c may be emitted at now, and if so records
// now as its last emission.
func (t *Throttle) Allow(c Category, now time.Time, cooldown time.Duration) bool {
	if c < 0 || c >= numCategories {
		return false
	}
	last := t[c]
	if last.ok && now.Sub(last.at) < cooldown {
		return false
	}
	t[c] = emission{at: now, ok: true}
	return true
}

// LastEmitted returns when c was last emitted; ok is false if never.
func (t Throttle) LastEmitted(c Category) (at time.Time, ok bool) {
	if c < 0 || c >= numCategories || !t[c].ok {
		return time.Time{}, false
	}
	return t[c].at, true
}

// Empty reports whether no category has been emitted.
func (t Throttle) Empty() bool {
	for _, e := range t {
		if e.ok {
			return false
		}
	}
	return true
}
