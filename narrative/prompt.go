package narrative

import (
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"
	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/starsorter/narrative-cache/profile"
)

// SystemPrompt frames every generation.
const SystemPrompt = `You are a narrative generator for Star System Sorter, a digital humanities research project that maps Human Design birth charts to star system archetypes.

Your role is to create personalized, insightful summaries that:
1. Interpret the user's star system classification (primary or hybrid)
2. Explain what their specific blend means in practical, human terms
3. Reference their Human Design attributes (type, authority, profile) when relevant
4. Use evocative but grounded language - cosmic but not woo-woo
5. Keep it concise (2-4 paragraphs, ~150-250 words)

STAR SYSTEM ARCHETYPES (use these as reference):

**Pleiades**: Nervous system caretaking, emotional safety, nurturing bonds, attachment security, feeding/holding energy
**Sirius**: Initiation through ordeal, catalyzing transformation via crisis, rites of passage, ascension through challenge
**Lyra**: Creative expression, artistic innovation, beauty as medicine, harmonic resonance, cultural preservation
**Andromeda**: Liberation work, confronting exploitation, restoring sovereignty, anti-domination ethics, protective intervention
**Orion Light (Osirian)**: Mystery schools, sacred geometry, wisdom keeping, record keeping, Thoth/Hermes lineage
**Orion Dark**: Control, hierarchy, shadow work, power dynamics, often allied with Draco
**Arcturus**: Frequency repair, trauma field cleanup, energetic recalibration, clinical healing, system refinement
**Draco**: Predator scanning, resource control, loyalty enforcement, survival through dominance, access gatekeeping

TONE GUIDELINES:
- Confident but not arrogant
- Insightful but not prescriptive
- Cosmic but grounded in psychology/behavior
- Avoid: "scientifically proven", "predict your future", medical claims
- Use: "pattern recognition", "archetypal mapping", "resonance", "signature"

STRUCTURE:
1. Opening: State their classification clearly (primary or hybrid)
2. Core: Explain what their blend means behaviorally/psychologically
3. Integration: How their HD attributes (type/authority/profile) interact with their star system signature
4. Closing: Practical insight or invitation to explore further

Remember: This is comparative mythology research with academic rigor, not typical astrology. Frame insights as pattern recognition and archetypal resonance.`

// UserPromptTemplate is rendered with a promptData per request.
const UserPromptTemplate = `Generate a personalized narrative for this user:

{{.Classification}}

Top 3 Systems: {{range $i, $s := .Top}}{{if $i}}, {{end}}{{$s.System}}: {{pct $s.Percent}}%{{end}}

Human Design Profile:
- Type: {{.HD.Type}}
- Authority: {{.HD.Authority}}
- Profile: {{.HD.Profile}}
- Defined Centers: {{join .HD.Centers ", "}}
- Active Gates: {{len .HD.Gates}} gates

Create a compelling, insightful summary that explains what this specific combination means for them. Focus on the behavioral/psychological signature of their star system blend and how it manifests through their HD configuration.`

var userPrompt = template.Must(template.New("user").Funcs(template.FuncMap{
	"join": strings.Join,
	"pct":  profile.ToFixed1,
}).Parse(UserPromptTemplate))

type promptData struct {
	Classification string
	Top            []profile.SystemShare
	HD             profile.HDData
}

// ClassificationLine describes the classification of r in one line.
func ClassificationLine(r profile.Request) string {
	switch {
	case r.Classification == profile.Primary && r.Primary != "":
		return "Primary Classification: " + r.Primary + " (" + r.FormatPercent(r.Primary) + "%)"
	case r.Classification == profile.Hybrid && r.Hybrid != nil:
		a, b := r.Hybrid[0], r.Hybrid[1]
		return "Hybrid Classification: " + a + " (" + r.FormatPercent(a) + "%) + " + b + " (" + r.FormatPercent(b) + "%)"
	default:
		return "Unresolved Classification"
	}
}

// BuildUserPrompt renders the user prompt for r.
func BuildUserPrompt(r profile.Request) (string, error) {
	var sb strings.Builder
	err := userPrompt.Execute(&sb, promptData{
		Classification: ClassificationLine(r),
		Top:            r.TopSystems(3),
		HD:             r.HDData,
	})
	if err != nil {
		return "", errors.Wrap(err, "render user prompt")
	}
	return sb.String(), nil
}

// PromptHash fingerprints the prompt construction. It changes whenever
// SystemPrompt or UserPromptTemplate is edited.
func PromptHash() string {
	return cachekey.HashPrompt(SystemPrompt, UserPromptTemplate)
}
