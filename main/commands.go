package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmurren/spintally/consolidate"
	"github.com/jmurren/spintally/history"
	"github.com/jmurren/spintally/internal/auth"
	"github.com/jmurren/spintally/internal/config"
	"github.com/jmurren/spintally/internal/llm"
	"github.com/jmurren/spintally/internal/pgstore"
	"github.com/jmurren/spintally/internal/runlog"
	"github.com/jmurren/spintally/resolve"
	"github.com/jmurren/spintally/rules"
	"github.com/jmurren/spintally/spotify"
)

var allKinds = []consolidate.Kind{consolidate.KindSong, consolidate.KindAlbum, consolidate.KindArtist}

func parseKind(s string) (consolidate.Kind, error) {
	switch s {
	case "song", "songs":
		return consolidate.KindSong, nil
	case "album", "albums":
		return consolidate.KindAlbum, nil
	case "artist", "artists":
		return consolidate.KindArtist, nil
	}
	return "", fmt.Errorf("unknown kind %q (want song, album or artist)", s)
}

// ========================================================== //
// auth

func cmdAuth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	listen := fs.String("listen", ":8888", "address for the OAuth callback server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := loadCredentials(); err != nil {
		return err
	}
	if err := auth.Authorize(ctx, *listen); err != nil {
		return err
	}
	fmt.Println("authorized: token saved")
	return nil
}

// ========================================================== //
// fetch / import

func cmdFetch(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	pages := fs.Int("pages", cfg.Spotify.MaxPages, "max recently-played pages to pull")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := loadCredentials(); err != nil {
		return err
	}

	client, err := spotify.NewClient(ctx)
	if err != nil {
		return err
	}

	mgr := runlog.NewManager()
	run := mgr.Begin()
	client.OnCall = func(label string, callErr error) {
		if callErr != nil {
			mgr.RecordFailure(run.ID, label, callErr)
			return
		}
		mgr.RecordSuccess(run.ID, label)
	}

	plays, err := client.RecentlyPlayed(ctx, *pages)
	mgr.Finish(run.ID)
	fmt.Println(mgr.Summary(run.ID))
	if err != nil {
		return err
	}

	return mergePlays(cfg, plays)
}

func cmdImport(_ context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	dir := fs.String("dir", cfg.Spotify.ExportDir, "directory holding StreamingHistory/endsong export files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("import: no export directory configured")
	}

	plays, err := spotify.LoadExports(*dir)
	if err != nil {
		return err
	}
	fmt.Printf("loaded %s plays from exports\n", humanize.Comma(int64(len(plays))))

	return mergePlays(cfg, plays)
}

// mergePlays folds plays into the persisted history aggregate for every
// entity kind, snapshotting each aggregate afterwards. Feeding the same
// plays twice double-counts them; callers own batch hygiene.
func mergePlays(cfg config.Config, plays []spotify.Play) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, _, err := rules.LoadLatest(cfg.DataDir)
	if err != nil {
		return err
	}

	for _, kind := range allKinds {
		agg, err := history.LoadLatest(cfg.DataDir, kind)
		if err != nil {
			return err
		}
		agg.MergeIncoming(store, spotify.Events(plays, kind))

		path, err := history.SaveTimestamped(cfg.DataDir, agg, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("%ss: %s entities, %s plays -> %s\n",
			kind,
			humanize.Comma(int64(agg.Meta.EntityCount)),
			humanize.Comma(int64(agg.Meta.TotalPlays)),
			path)
	}
	return nil
}

// ========================================================== //
// consolidate

func cmdConsolidate(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("consolidate", flag.ContinueOnError)
	kindName := fs.String("kind", "song", "entity kind to consolidate")
	topN := fs.Int("top", cfg.TopN, "ranked entities to keep (negative keeps all)")
	resolverName := fs.String("resolver", cfg.Resolver, "ambiguity resolver: auto, interactive or oracle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := parseKind(*kindName)
	if err != nil {
		return err
	}

	agg, err := history.LoadLatest(cfg.DataDir, kind)
	if err != nil {
		return err
	}
	store, rulesPath, err := rules.LoadLatest(cfg.DataDir)
	if err != nil {
		return err
	}
	if rulesPath != "" {
		fmt.Printf("using %d rules from %s\n", store.Len(), rulesPath)
	}

	resolver, err := buildResolver(*resolverName, cfg, store)
	if err != nil {
		return err
	}

	opts := consolidate.Options{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		TopN:                *topN,
		Batch: resolve.BatchOptions{
			BatchSize: cfg.Oracle.BatchSize,
			Pause:     time.Duration(cfg.Oracle.PauseMs) * time.Millisecond,
		},
	}

	entities, updated, err := consolidate.Consolidate(ctx, agg.TopRecords(), store, resolver, opts)
	if err != nil {
		return err
	}

	if updated.Len() > store.Len() {
		path, err := rules.SaveTimestamped(cfg.DataDir, updated, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("learned %d new rules -> %s\n", updated.Len()-store.Len(), path)
	}

	path, err := saveTopSnapshot(cfg.DataDir, kind, entities)
	if err != nil {
		return err
	}
	fmt.Printf("ranked %s entities -> %s\n", humanize.Comma(int64(len(entities))), path)
	printTop(entities, 10)

	return persistToPostgres(ctx, cfg, kind, entities, updated)
}

func buildResolver(name string, cfg config.Config, store rules.Store) (resolve.Resolver, error) {
	switch name {
	case "auto", "":
		return resolve.Auto{}, nil
	case "interactive":
		return resolve.NewInteractive(nil, nil), nil
	case "oracle":
		gen := llm.New(cfg.Oracle.URL, cfg.Oracle.Model)
		return resolve.NewOracle(gen, store.Recent(5)), nil
	}
	return nil, fmt.Errorf("unknown resolver %q", name)
}

type topSnapshot struct {
	Metadata struct {
		SavedAt time.Time        `json:"saved_at"`
		Kind    consolidate.Kind `json:"kind"`
		Count   int              `json:"count"`
	} `json:"metadata"`
	Entities []consolidate.CanonicalEntity `json:"entities"`
}

func saveTopSnapshot(dir string, kind consolidate.Kind, entities []consolidate.CanonicalEntity) (string, error) {
	var doc topSnapshot
	doc.Metadata.SavedAt = time.Now().UTC()
	doc.Metadata.Kind = kind
	doc.Metadata.Count = len(entities)
	doc.Entities = entities

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal top snapshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	name := fmt.Sprintf("top_%ss_%s.json", kind, time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write top snapshot: %w", err)
	}
	return path, nil
}

func printTop(entities []consolidate.CanonicalEntity, n int) {
	for _, e := range entities {
		if e.Rank > n {
			break
		}
		merged := ""
		if e.Consolidated > 1 {
			merged = fmt.Sprintf(" (merged %d variants)", e.Consolidated)
		}
		fmt.Printf("%3d. %-40s %8s plays%s\n", e.Rank, e.Name, humanize.Comma(int64(e.PlayCount)), merged)
	}
}

func persistToPostgres(ctx context.Context, cfg config.Config, kind consolidate.Kind, entities []consolidate.CanonicalEntity, store rules.Store) error {
	if cfg.Postgres.DSN == "" {
		return nil
	}

	pg, err := pgstore.Open(cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	if err := pg.InsertRules(ctx, store.Rules()); err != nil {
		return err
	}
	return pg.UpsertTopEntities(ctx, kind, entities)
}

// ========================================================== //
// history

func cmdHistory(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	kindName := fs.String("kind", "song", "entity kind to summarize")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := parseKind(*kindName)
	if err != nil {
		return err
	}

	agg, err := history.LoadLatest(cfg.DataDir, kind)
	if err != nil {
		return err
	}

	m := agg.Meta
	fmt.Printf("%ss tracked: %s\n", kind, humanize.Comma(int64(m.EntityCount)))
	fmt.Printf("total plays:   %s\n", humanize.Comma(int64(m.TotalPlays)))
	fmt.Printf("time listened: %s\n", (time.Duration(m.TotalMs) * time.Millisecond).Round(time.Minute))
	if !m.Earliest.IsZero() {
		fmt.Printf("first play:    %s (%s)\n", m.Earliest.Format("2006-01-02"), humanize.Time(m.Earliest))
		fmt.Printf("latest play:   %s (%s)\n", m.Latest.Format("2006-01-02"), humanize.Time(m.Latest))
	}
	return nil
}
