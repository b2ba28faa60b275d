package search

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/calls"
	"github.com/snarg/radioscribe/internal/config"
)

// Indexer writes call documents to Meilisearch and manages the monthly index
// shards and their settings.
type Indexer struct {
	client       meilisearch.ServiceManager
	base         string
	splitByMonth bool
	searchUIURL  string
	log          zerolog.Logger

	mu      sync.Mutex
	ensured map[string]bool

	// now is swapped out by tests.
	now func() time.Time
}

// NewIndexer builds an indexer from config.
func NewIndexer(cfg *config.Config, log zerolog.Logger) *Indexer {
	var opts []meilisearch.Option
	if cfg.MeiliKey != "" {
		opts = append(opts, meilisearch.WithAPIKey(cfg.MeiliKey))
	}
	return &Indexer{
		client:       meilisearch.New(cfg.MeiliURL, opts...),
		base:         cfg.MeiliIndex,
		splitByMonth: cfg.MeiliSplitByMonth,
		searchUIURL:  strings.TrimRight(cfg.SearchUIURL, "/"),
		log:          log.With().Str("component", "indexer").Logger(),
		ensured:      map[string]bool{},
		now:          time.Now,
	}
}

// IndexName returns the index a call belongs to: <base>_YYYY_MM when monthly
// sharding is on, derived from the call's start_time in UTC.
func (ix *Indexer) IndexName(start time.Time) string {
	if !ix.splitByMonth {
		return ix.base
	}
	u := start.UTC()
	return fmt.Sprintf("%s_%04d_%02d", ix.base, u.Year(), u.Month())
}

// settings is the shared schema for every call index.
func settings() *meilisearch.Settings {
	return &meilisearch.Settings{
		SearchableAttributes: []string{"transcript"},
		FilterableAttributes: []string{
			"start_time",
			"talkgroup", "talkgroup_tag", "talkgroup_description", "talkgroup_group",
			"talkgroup_hierarchy.lvl0", "talkgroup_hierarchy.lvl1", "talkgroup_hierarchy.lvl2",
			"audio_type", "short_name",
			"units", "radios", "srcList",
			"_geo",
		},
		SortableAttributes: []string{"start_time", "_geo"},
		RankingRules: []string{
			"sort", "words", "typo", "proximity", "attribute", "exactness",
		},
	}
}

// CreateOrUpdateIndex ensures the named index exists with the current
// settings. Settings pushes are idempotent so this is safe to call per write.
func (ix *Indexer) CreateOrUpdateIndex(name string) error {
	ix.mu.Lock()
	if ix.ensured[name] {
		ix.mu.Unlock()
		return nil
	}
	ix.mu.Unlock()

	if _, err := ix.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        name,
		PrimaryKey: "id",
	}); err != nil {
		// Already-exists comes back as an async task error on some
		// versions and a sync error on others; the settings push below
		// is the authoritative check.
		ix.log.Debug().Err(err).Str("index", name).Msg("create index")
	}
	if _, err := ix.client.Index(name).UpdateSettings(settings()); err != nil {
		return fmt.Errorf("update settings for %q: %w", name, err)
	}

	ix.mu.Lock()
	ix.ensured[name] = true
	ix.mu.Unlock()
	ix.log.Info().Str("index", name).Msg("index schema ensured")
	return nil
}

// MakeNextIndex pre-creates the next month's index when the wall clock is
// within one hour of a month boundary, so writes that straddle the boundary
// never race to create the schema.
func (ix *Indexer) MakeNextIndex() error {
	if !ix.splitByMonth {
		return nil
	}
	now := ix.now().UTC()
	nextMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	if nextMonth.Sub(now) > time.Hour {
		return nil
	}
	return ix.CreateOrUpdateIndex(ix.IndexName(nextMonth))
}

// IndexCall upserts one call document and returns the deep-link search URL.
// indexOverride, when non-empty, targets a specific index (reindex tooling).
func (ix *Indexer) IndexCall(id string, m *calls.Metadata, audioURL string, tr *calls.Transcript, geo *Geo, indexOverride string) (string, error) {
	doc, err := BuildDocument(id, m, audioURL, tr, geo)
	if err != nil {
		return "", err
	}

	name := indexOverride
	if name == "" {
		name = ix.IndexName(m.Start())
	}
	if err := ix.CreateOrUpdateIndex(name); err != nil {
		return "", err
	}
	if err := ix.MakeNextIndex(); err != nil {
		ix.log.Warn().Err(err).Msg("pre-creating next month index failed")
	}

	if _, err := ix.client.Index(name).AddDocuments([]*Document{doc}); err != nil {
		return "", fmt.Errorf("index call %s into %q: %w", id, name, err)
	}
	ix.log.Debug().Str("id", id).Str("index", name).Msg("call indexed")
	return ix.SearchURL(name, id, m), nil
}

// SearchURL composes the deep link into the search UI for one call: newest
// first, 60 hits, refined to the call's talkgroup, windowed 20 minutes back
// and 10 minutes forward from the call start, anchored on the hit.
func (ix *Indexer) SearchURL(index, id string, m *calls.Metadata) string {
	if ix.searchUIURL == "" {
		return ""
	}
	from := m.StartTime - 20*60
	to := m.StartTime + 10*60

	q := url.Values{}
	q.Set(index+"[sortBy]", index+":start_time:desc")
	q.Set(index+"[hitsPerPage]", "60")
	q.Set(index+"[refinementList][talkgroup_tag][0]", m.TalkgroupTag)
	q.Set(index+"[range][start_time]", fmt.Sprintf("%d:%d", from, to))
	return fmt.Sprintf("%s/?%s#hit-%s", ix.searchUIURL, q.Encode(), id)
}
