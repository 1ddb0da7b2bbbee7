package consolidate

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/jmurren/spintally/resolve"
	"github.com/jmurren/spintally/rules"
)

// Options tunes one consolidation run.
type Options struct {
	// ConfidenceThreshold gates resolver-approved merges (default 0.7).
	ConfidenceThreshold float64
	// TopN truncates the ranked output (default 500, negative = unlimited).
	TopN int
	// Batch controls concurrent resolver dispatch.
	Batch resolve.BatchOptions
	// Now stamps new rules; defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ConfidenceThreshold == 0 {
		o.ConfidenceThreshold = 0.7
	}
	if o.TopN == 0 {
		o.TopN = 500
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Consolidate groups records by attribution and normalized name, asks the
// resolver about plausible-but-not-identical variant clusters, folds
// equivalent records together and returns the ranked top-N along with the
// rule store extended by any newly approved equivalences. Empty input
// yields empty output. A record with a negative magnitude aborts the call
// before any clustering: nothing is partially applied.
func Consolidate(ctx context.Context, records []RawRecord, store rules.Store, resolver resolve.Resolver, opts Options) ([]CanonicalEntity, rules.Store, error) {
	opts = opts.withDefaults()

	for _, r := range records {
		if err := r.validate(); err != nil {
			return nil, store, err
		}
	}
	if len(records) == 0 {
		return []CanonicalEntity{}, store, nil
	}

	store = approveClusters(ctx, records, store, resolver, opts)
	entities := fold(records, store)
	entities = rank(entities, opts.TopN)
	return entities, store, nil
}

// ========================================================== //
// Candidate clustering and resolution

type cluster struct {
	attribution string // folded
	records     []RawRecord
}

// approveClusters finds variant clusters per attribution, auto-merges the
// trivially identical ones and sends the rest to the resolver. Every
// approved grouping becomes a rule before any folding happens, so repeat
// runs short-circuit on the rule store without re-asking.
func approveClusters(ctx context.Context, records []RawRecord, store rules.Store, resolver resolve.Resolver, opts Options) rules.Store {
	clusters := candidateClusters(records)

	var ambiguous []cluster
	for _, c := range clusters {
		if len(c.records) < 2 {
			continue
		}
		if alreadyRuled(store, c) {
			continue
		}
		if identicalFoldedNames(c.records) {
			// The base-name heuristic can surface exact duplicates when
			// stripping was a no-op; no resolver needed.
			store = store.WithRule(newRule(c, mostPlayedName(c.records), "auto", opts.Now()))
			continue
		}
		ambiguous = append(ambiguous, c)
	}

	if len(ambiguous) == 0 || resolver == nil {
		return store
	}

	asks := make([]resolve.Cluster, len(ambiguous))
	for i, c := range ambiguous {
		asks[i] = toResolveCluster(c)
	}

	decisions := resolve.ResolveAll(ctx, resolver, asks, opts.Batch)

	for i, d := range decisions {
		c := ambiguous[i]
		if !d.ShouldConsolidate || d.Confidence < opts.ConfidenceThreshold {
			continue
		}
		store = store.WithRule(newRule(c, canonicalFor(c, d), decisionSource(d), opts.Now()))
	}
	return store
}

// candidateClusters groups records sharing an attribution and a heuristic
// base name, preserving first-seen order of both clusters and members.
func candidateClusters(records []RawRecord) []cluster {
	index := make(map[string]int)
	var out []cluster

	for _, r := range records {
		k := FoldAttribution(r.Attribution) + keySep + BaseName(r.Name)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, cluster{attribution: FoldAttribution(r.Attribution)})
		}
		out[i].records = append(out[i].records, r)
	}
	return out
}

// alreadyRuled reports whether every member of the cluster already maps to
// one canonical name in the store, meaning a previous run approved it.
func alreadyRuled(store rules.Store, c cluster) bool {
	first, ok := store.Lookup(c.attribution, c.records[0].Name)
	if !ok {
		return false
	}
	for _, r := range c.records[1:] {
		canonical, ok := store.Lookup(c.attribution, r.Name)
		if !ok || canonical != first {
			return false
		}
	}
	return true
}

func identicalFoldedNames(records []RawRecord) bool {
	first := foldName(records[0].Name)
	for _, r := range records[1:] {
		if foldName(r.Name) != first {
			return false
		}
	}
	return true
}

func mostPlayedName(records []RawRecord) string {
	best := 0
	for i, r := range records[1:] {
		if r.PlayCount > records[best].PlayCount {
			best = i + 1
		}
	}
	return records[best].Name
}

// canonicalFor picks the rule's canonical name: the resolver's choice when
// it names an actual cluster member (the interactive policy lets the
// operator pick), otherwise the most-played member's display name.
func canonicalFor(c cluster, d resolve.Decision) string {
	want := foldName(d.CanonicalName)
	for _, r := range c.records {
		if foldName(r.Name) == want {
			return r.Name
		}
	}
	log.Printf("resolver canonical %q is not a cluster member, using most-played variant", d.CanonicalName)
	return mostPlayedName(c.records)
}

func newRule(c cluster, canonical, source string, now time.Time) rules.Rule {
	variants := make([]string, 0, len(c.records))
	seen := make(map[string]bool, len(c.records))
	for _, r := range c.records {
		v := foldName(r.Name)
		if !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}
	return rules.Rule{
		Attribution: c.attribution,
		Canonical:   canonical,
		Variants:    variants,
		Source:      source,
		CreatedAt:   now,
	}
}

func toResolveCluster(c cluster) resolve.Cluster {
	members := make([]resolve.Member, len(c.records))
	for i, r := range c.records {
		members[i] = resolve.Member{Name: r.Name, PlayCount: r.PlayCount}
	}
	return resolve.Cluster{Attribution: c.attribution, Members: members}
}

// decisionSource labels a new rule with the policy that approved it,
// defaulting to "oracle" for resolvers that do not identify themselves.
func decisionSource(d resolve.Decision) string {
	if d.Source != "" {
		return d.Source
	}
	return "oracle"
}

// ========================================================== //
// Folding and ranking

// fold merges all records sharing a grouping key into one entity,
// accumulating counters and recomputing the canonical name after every
// merge from the currently-accumulated per-member play counts.
func fold(records []RawRecord, store rules.Store) []CanonicalEntity {
	index := make(map[string]int)
	var out []CanonicalEntity
	var memberNames [][]string // parallel to out; display names in merge order

	for _, r := range records {
		k := Key(store, r.Attribution, r.Name)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, CanonicalEntity{Key: k, Kind: r.Kind})
			memberNames = append(memberNames, nil)
		}

		e := &out[i]
		e.PlayCount += r.PlayCount
		e.DurationMs += r.DurationMs
		e.MemberIDs = append(e.MemberIDs, r.ID)
		e.MemberPlayCounts = append(e.MemberPlayCounts, r.PlayCount)
		e.Consolidated = len(e.MemberIDs)
		memberNames[i] = append(memberNames[i], r.Name)
		if e.ImageURL == "" {
			e.ImageURL = r.ImageURL
		}

		// Most-played variant wins the name; ties keep the first seen.
		best := 0
		for j, pc := range e.MemberPlayCounts {
			if pc > e.MemberPlayCounts[best] {
				best = j
			}
		}
		e.Name = memberNames[i][best]
	}

	return out
}

// rank sorts by play count descending (stable, so equal counts keep input
// order), truncates to topN and assigns 1-based ranks.
func rank(entities []CanonicalEntity, topN int) []CanonicalEntity {
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].PlayCount > entities[j].PlayCount
	})
	if topN >= 0 && len(entities) > topN {
		entities = entities[:topN]
	}
	for i := range entities {
		entities[i].Rank = i + 1
	}
	return entities
}
