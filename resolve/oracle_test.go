package resolve_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmurren/spintally/resolve"
	"github.com/jmurren/spintally/rules"
)

// scriptedGen returns a canned completion, or an error.
type scriptedGen struct {
	text   string
	err    error
	prompt string
}

func (g *scriptedGen) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.text, g.err
}

func abbeyRoadCluster() resolve.Cluster {
	return resolve.Cluster{
		Attribution: "the beatles",
		Members: []resolve.Member{
			M("Abbey Road", 100),
			M("Abbey Road (Remastered)", 40),
		},
	}
}

// =======================================================
// Well-formed responses in awkward clothing
// =======================================================

func TestOracle_PlainJSONResponse(t *testing.T) {
	gen := &scriptedGen{text: `{"should_consolidate": true, "confidence": 0.92, "canonical_name": "Abbey Road", "reasoning": "remaster"}`}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)
	require.True(t, d.ShouldConsolidate)
	require.InDelta(t, 0.92, d.Confidence, 1e-9)
	require.Equal(t, "Abbey Road", d.CanonicalName)
	require.Equal(t, "oracle", d.Source)
}

func TestOracle_ProseWrappedJSON(t *testing.T) {
	gen := &scriptedGen{text: `Sure! Looking at the play counts, these are clearly the same album.

{"should_consolidate": true, "confidence": 0.85, "canonical_name": "Abbey Road", "reasoning": "same album, remastered release"}

Let me know if you need anything else.`}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)
	require.True(t, d.ShouldConsolidate)
	require.Equal(t, "Abbey Road", d.CanonicalName)
}

func TestOracle_CodeFencedJSON(t *testing.T) {
	gen := &scriptedGen{text: "```json\n{\"should_consolidate\": false, \"confidence\": 0.8, \"canonical_name\": \"Abbey Road\", \"reasoning\": \"different live recording\"}\n```"}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)
	require.False(t, d.ShouldConsolidate)
	require.InDelta(t, 0.8, d.Confidence, 1e-9)
}

func TestOracle_SkipsMistypedObjectForValidOne(t *testing.T) {
	// First object has a string where a bool belongs; the scan moves on.
	gen := &scriptedGen{text: `{"should_consolidate": "yes", "confidence": 0.9, "canonical_name": "x"}
{"should_consolidate": true, "confidence": 0.75, "canonical_name": "Abbey Road", "reasoning": "ok"}`}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)
	require.True(t, d.ShouldConsolidate)
	require.Equal(t, "Abbey Road", d.CanonicalName)
}

// =======================================================
// Failure modes never abort the batch
// =======================================================

func TestOracle_TransportFailureFallsBack(t *testing.T) {
	gen := &scriptedGen{err: errors.New("connection refused")}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err, "transport failure is recovered, not propagated")
	require.False(t, d.ShouldConsolidate)
	require.Zero(t, d.Confidence)
	require.Equal(t, "Abbey Road", d.CanonicalName)
	require.Contains(t, d.Reasoning, "unreachable")
}

func TestOracle_UnparseableResponseFallsBack(t *testing.T) {
	gen := &scriptedGen{text: "I think they are probably the same album but I cannot say."}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)
	require.False(t, d.ShouldConsolidate)
	require.Contains(t, d.Reasoning, "malformed")
}

func TestOracle_MissingRequiredFieldFallsBack(t *testing.T) {
	gen := &scriptedGen{text: `{"confidence": 0.9, "reasoning": "no verdict field"}`}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)
	require.False(t, d.ShouldConsolidate)
}

// =======================================================
// Response hygiene
// =======================================================

func TestOracle_ClampsConfidence(t *testing.T) {
	gen := &scriptedGen{text: `{"should_consolidate": true, "confidence": 3.5, "canonical_name": "Abbey Road", "reasoning": ""}`}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)
	require.Equal(t, 1.0, d.Confidence)
}

func TestOracle_EmptyCanonicalDefaultsToFirstMember(t *testing.T) {
	gen := &scriptedGen{text: `{"should_consolidate": true, "confidence": 0.9, "canonical_name": "", "reasoning": ""}`}
	o := resolve.NewOracle(gen, nil)

	d, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)
	require.Equal(t, "Abbey Road", d.CanonicalName)
}

func TestOracle_PromptCarriesExamplesAndMembers(t *testing.T) {
	gen := &scriptedGen{text: `{"should_consolidate": false, "confidence": 1, "canonical_name": "Abbey Road", "reasoning": ""}`}
	examples := []rules.Rule{{
		Attribution: "queen",
		Canonical:   "Greatest Hits",
		Variants:    []string{"greatest hits", "greatest hits (remastered)"},
	}}
	o := resolve.NewOracle(gen, examples)

	_, err := o.Resolve(context.Background(), abbeyRoadCluster())
	require.NoError(t, err)

	require.True(t, strings.Contains(gen.prompt, "Greatest Hits"), "prompt should carry approved examples")
	require.True(t, strings.Contains(gen.prompt, "100 plays"), "prompt should carry play counts")
	require.True(t, strings.Contains(gen.prompt, "JSON"), "prompt should demand JSON output")
}
