package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/jmurren/spintally/rules"
)

// Generator is the transport to a text-completion service.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Oracle classifies clusters by asking a language model. The model's
// response is parsed defensively: the first well-formed JSON object found
// in the text wins, and anything unparseable falls back to keep-separate
// instead of surfacing an error.
type Oracle struct {
	gen      Generator
	examples []rules.Rule
}

// NewOracle builds an oracle policy over gen. Up to five previously
// approved rules are embedded in each prompt as worked examples.
func NewOracle(gen Generator, examples []rules.Rule) *Oracle {
	if len(examples) > 5 {
		examples = examples[len(examples)-5:]
	}
	return &Oracle{gen: gen, examples: examples}
}

func (o *Oracle) Resolve(ctx context.Context, c Cluster) (Decision, error) {
	if len(c.Members) == 0 {
		return Decision{}, fmt.Errorf("empty cluster")
	}

	text, err := o.gen.Generate(ctx, o.buildPrompt(c))
	if err != nil {
		// Transport failure is recovered locally, never propagated.
		return Fallback(c, fmt.Sprintf("oracle unreachable: %v", err)), nil
	}

	d, err := extractDecision(text)
	if err != nil {
		return Fallback(c, fmt.Sprintf("malformed oracle response: %v", err)), nil
	}

	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	if strings.TrimSpace(d.CanonicalName) == "" {
		d.CanonicalName = c.Members[0].Name
	}
	d.Source = "oracle"
	return d, nil
}

func (o *Oracle) buildPrompt(c Cluster) string {
	var sb strings.Builder

	sb.WriteString("You deduplicate music listening statistics. Decide whether the\n")
	sb.WriteString("following differently-spelled names all refer to the SAME song,\n")
	sb.WriteString("album or artist, or to genuinely different ones.\n\n")

	if len(o.examples) > 0 {
		sb.WriteString("Previously approved equivalences:\n")
		for _, r := range o.examples {
			sb.WriteString(fmt.Sprintf("- under %q: %s => %q\n",
				r.Attribution, strings.Join(r.Variants, ", "), r.Canonical))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Candidate cluster under %q:\n", c.Attribution))
	base := strings.ToLower(c.Members[0].Name)
	for i, m := range c.Members {
		sim := levenshtein.Similarity(base, strings.ToLower(m.Name), nil)
		sb.WriteString(fmt.Sprintf("%d. %q (%d plays, similarity to first: %.2f)\n",
			i+1, m.Name, m.PlayCount, sim))
	}

	sb.WriteString("\nRespond with ONLY a JSON object of this exact shape:\n")
	sb.WriteString(`{"should_consolidate": true, "confidence": 0.9, "canonical_name": "...", "reasoning": "..."}`)
	sb.WriteString("\nconfidence is your certainty in [0,1]. canonical_name must be one of the listed names.\n")

	return sb.String()
}

// ========================================================== //
// Defensive response parsing

type decisionProbe struct {
	ShouldConsolidate *bool    `json:"should_consolidate"`
	Confidence        *float64 `json:"confidence"`
	CanonicalName     *string  `json:"canonical_name"`
	Reasoning         string   `json:"reasoning"`
}

// extractDecision scans raw text for the first balanced JSON object that
// unmarshals into the Decision shape with all required fields present and
// correctly typed. Models often wrap the payload in prose or code fences.
func extractDecision(raw string) (Decision, error) {
	text := stripFences(raw)

	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		end, ok := balancedObjectEnd(text, start)
		if !ok {
			continue
		}

		var probe decisionProbe
		if err := json.Unmarshal([]byte(text[start:end]), &probe); err != nil {
			continue
		}
		if probe.ShouldConsolidate == nil || probe.Confidence == nil || probe.CanonicalName == nil {
			continue
		}
		return Decision{
			ShouldConsolidate: *probe.ShouldConsolidate,
			Confidence:        *probe.Confidence,
			CanonicalName:     *probe.CanonicalName,
			Reasoning:         probe.Reasoning,
		}, nil
	}

	return Decision{}, fmt.Errorf("no parseable decision object in %d bytes of response", len(raw))
}

// balancedObjectEnd returns the index one past the matching close brace for
// the object starting at start, tracking strings and escapes.
func balancedObjectEnd(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	start, end := 0, len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if start == 0 {
				start = i + 1
			} else {
				end = i
				break
			}
		}
	}
	if start > 0 && end > start {
		return strings.Join(lines[start:end], "\n")
	}
	return s
}
