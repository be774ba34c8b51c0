package narrative

import (
	"fmt"

	"github.com/starsorter/narrative-cache/profile"
)

// Fallback is the deterministic narrative served when generation is not possible.
func Fallback(r profile.Request) string {
	hd := r.HDData
	switch {
	case r.Classification == profile.Primary && r.Primary != "":
		return fmt.Sprintf("You are primarily aligned with the %s star system (%s%%). This signature reflects your core archetypal pattern and how you naturally engage with the world. Your Human Design configuration amplifies this resonance through your %s type and %s authority.",
			r.Primary, r.FormatPercent(r.Primary), hd.Type, hd.Authority)
	case r.Classification == profile.Hybrid && r.Hybrid != nil:
		a, b := r.Hybrid[0], r.Hybrid[1]
		return fmt.Sprintf("You are a near-perfect dual blend of %s (%s%%) and %s (%s%%). This hybrid signature gives you access to both archetypal patterns, allowing you to navigate between different modes of being. Your %s type and %s authority shape how you express this unique combination.",
			a, r.FormatPercent(a), b, r.FormatPercent(b), hd.Type, hd.Authority)
	default:
		return fmt.Sprintf("Your star system classification shows a distributed pattern across multiple systems. This suggests a versatile archetypal signature that draws from various sources. Your %s type and %s authority provide the framework for how you integrate these diverse influences.",
			hd.Type, hd.Authority)
	}
}
