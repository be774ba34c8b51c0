package narrative

import (
	"strings"
	"testing"

	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/starsorter/narrative-cache/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hybrid() profile.Request {
	return profile.Request{
		Classification: profile.Hybrid,
		Hybrid:         &[2]string{"Lyra", "Arcturus"},
		Percentages:    map[string]float64{"Lyra": 41.04, "Arcturus": 40.96, "Draco": 18},
		HDData: profile.HDData{
			Type:      "Projector",
			Authority: "Splenic",
			Profile:   "2/4",
			Centers:   []string{"Spleen", "Throat"},
			Gates:     []int{10, 20, 34},
		},
	}
}

func TestClassificationLine(t *testing.T) {
	assert.Equal(t, "Primary Classification: Pleiades (85.5%)", ClassificationLine(pleiades()))
	assert.Equal(t, "Hybrid Classification: Lyra (41.0%) + Arcturus (41.0%)", ClassificationLine(hybrid()))
	assert.Equal(t, "Unresolved Classification", ClassificationLine(profile.Request{Classification: profile.Unresolved}))

	// primary without a system reads as unresolved
	assert.Equal(t, "Unresolved Classification", ClassificationLine(profile.Request{Classification: profile.Primary}))
}

func TestBuildUserPrompt(t *testing.T) {
	r := pleiades()
	r.Percentages["Sirius"] = 10
	r.Percentages["Lyra"] = 2.25
	r.Percentages["Draco"] = 2.3

	prompt, err := BuildUserPrompt(r)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "Generate a personalized narrative for this user:\n\nPrimary Classification: Pleiades (85.5%)\n"))
	assert.Contains(t, prompt, "Top 3 Systems: Pleiades: 85.5%, Sirius: 10.0%, Draco: 2.3%\n")
	assert.NotContains(t, prompt, "Lyra")
	assert.Contains(t, prompt, "- Type: Generator\n")
	assert.Contains(t, prompt, "- Authority: Sacral\n")
	assert.Contains(t, prompt, "- Profile: 3/5\n")
	assert.Contains(t, prompt, "- Defined Centers: Sacral\n")
	assert.Contains(t, prompt, "- Active Gates: 1 gates\n")
}

func TestBuildUserPromptHybrid(t *testing.T) {
	prompt, err := BuildUserPrompt(hybrid())
	require.NoError(t, err)
	assert.Contains(t, prompt, "Hybrid Classification: Lyra (41.0%) + Arcturus (41.0%)")
	assert.Contains(t, prompt, "Top 3 Systems: Lyra: 41.0%, Arcturus: 41.0%, Draco: 18.0%")
	assert.Contains(t, prompt, "- Defined Centers: Spleen, Throat\n")
	assert.Contains(t, prompt, "- Active Gates: 3 gates\n")
}

func TestPromptHash(t *testing.T) {
	h := PromptHash()
	assert.Len(t, h, cachekey.PromptHashLength)
	assert.Equal(t, h, PromptHash())
	assert.Equal(t, cachekey.HashPrompt(SystemPrompt, UserPromptTemplate), h)
	assert.NotEqual(t, cachekey.HashPrompt(SystemPrompt+" ", UserPromptTemplate), h)
}

func TestFallback(t *testing.T) {
	assert.Equal(t,
		"You are primarily aligned with the Pleiades star system (85.5%). This signature reflects your core archetypal pattern and how you naturally engage with the world. Your Human Design configuration amplifies this resonance through your Generator type and Sacral authority.",
		Fallback(pleiades()))

	h := Fallback(hybrid())
	assert.True(t, strings.HasPrefix(h, "You are a near-perfect dual blend of Lyra (41.0%) and Arcturus (41.0%)."))
	assert.Contains(t, h, "Your Projector type and Splenic authority shape how you express this unique combination.")

	u := Fallback(profile.Request{Classification: profile.Unresolved, HDData: profile.HDData{Type: "Reflector", Authority: "Lunar"}})
	assert.True(t, strings.HasPrefix(u, "Your star system classification shows a distributed pattern across multiple systems."))
	assert.Contains(t, u, "Your Reflector type and Lunar authority provide the framework")
}

func TestFallbackMissingPercent(t *testing.T) {
	r := pleiades()
	r.Percentages = map[string]float64{}
	assert.Contains(t, Fallback(r), "Pleiades star system (0.0%)")
}
