// Package resolve decides whether a cluster of similarly-named play records
// denotes one real entity. Three interchangeable policies implement the
// same interface: Auto (identical names only), Interactive (operator
// prompt) and Oracle (language-model classification).
package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Member is one record variant inside a candidate cluster.
type Member struct {
	Name      string
	PlayCount int
}

// Cluster is a group of record variants under one attribution that share a
// heuristic base name and might be the same entity.
type Cluster struct {
	Attribution string
	Members     []Member
}

// Decision is a resolver's verdict on one cluster.
type Decision struct {
	ShouldConsolidate bool    `json:"should_consolidate"`
	Confidence        float64 `json:"confidence"`
	CanonicalName     string  `json:"canonical_name"`
	Reasoning         string  `json:"reasoning"`

	// Source names the policy that produced the verdict ("auto",
	// "interactive", "oracle"). Set by the policy itself, never parsed
	// from model output.
	Source string `json:"-"`
}

// Resolver classifies one cluster. A returned error means the policy could
// not produce a verdict; callers substitute Fallback rather than aborting.
type Resolver interface {
	Resolve(ctx context.Context, c Cluster) (Decision, error)
}

// Fallback is the keep-separate decision used whenever a policy fails.
func Fallback(c Cluster, reason string) Decision {
	name := ""
	if len(c.Members) > 0 {
		name = c.Members[0].Name
	}
	return Decision{
		ShouldConsolidate: false,
		Confidence:        0,
		CanonicalName:     name,
		Reasoning:         reason,
	}
}

func foldedIdentical(members []Member) bool {
	if len(members) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(members[0].Name))
	for _, m := range members[1:] {
		if strings.ToLower(strings.TrimSpace(m.Name)) != first {
			return false
		}
	}
	return true
}

// mostPlayed returns the name of the member with the highest play count,
// ties broken by position.
func mostPlayed(members []Member) string {
	best := 0
	for i, m := range members[1:] {
		if m.PlayCount > members[best].PlayCount {
			best = i + 1
		}
	}
	return members[best].Name
}

// ========================================================== //
// Auto policy

// Auto consolidates only clusters whose member names are already identical
// after case folding. Deterministic; safe wherever reproducibility matters.
type Auto struct{}

func (Auto) Resolve(_ context.Context, c Cluster) (Decision, error) {
	if len(c.Members) == 0 {
		return Decision{}, fmt.Errorf("empty cluster")
	}
	if foldedIdentical(c.Members) {
		return Decision{
			ShouldConsolidate: true,
			Confidence:        1.0,
			CanonicalName:     mostPlayed(c.Members),
			Reasoning:         "identical names after case folding",
			Source:            "auto",
		}, nil
	}
	d := Fallback(c, "names differ; auto policy keeps variants separate")
	d.Source = "auto"
	return d, nil
}

// ========================================================== //
// Batched dispatch

// BatchOptions controls concurrent cluster dispatch in ResolveAll.
type BatchOptions struct {
	BatchSize int           // clusters resolved concurrently (default 5)
	Pause     time.Duration // pause between batches (default 500ms)
}

// ResolveAll resolves every cluster and returns one decision per cluster,
// index-aligned with the input. Clusters inside a batch run concurrently;
// batches are separated by a short pause to respect external rate limits.
// A failed resolution becomes a keep-separate Fallback, never an error:
// one malformed classification must not sink the batch.
func ResolveAll(ctx context.Context, r Resolver, clusters []Cluster, opts BatchOptions) []Decision {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.Pause <= 0 {
		opts.Pause = 500 * time.Millisecond
	}

	decisions := make([]Decision, len(clusters))

	for start := 0; start < len(clusters); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(clusters) {
			end = len(clusters)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				d, err := r.Resolve(gctx, clusters[i])
				if err != nil {
					d = Fallback(clusters[i], fmt.Sprintf("resolver failed: %v", err))
				}
				decisions[i] = d
				return nil
			})
		}
		_ = g.Wait()

		if end < len(clusters) {
			time.Sleep(opts.Pause)
		}
	}

	return decisions
}
