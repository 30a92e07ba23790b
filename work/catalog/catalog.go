package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"iptv-session/work/client"
	"iptv-session/work/config"
	"iptv-session/work/logger"
	"iptv-session/work/logos"
	"iptv-session/work/normalize"
	"iptv-session/work/playlist"
	"iptv-session/work/session"
	"iptv-session/work/xtream"
)

// ItemType partitions the catalog into the three browsing grids.
type ItemType string

const (
	TypeLive    ItemType = "live"
	TypeVOD     ItemType = "vod"
	TypeSeries  ItemType = "series"
	TypeEpisode ItemType = "episode"
)

// Item is one playable (or, for series, browsable) catalog entry,
// aggregated across all configured sources.
type Item struct {
	ID       string   `json:"id"`
	Type     ItemType `json:"type"`
	Name     string   `json:"name"`
	LogoURL  string   `json:"logoUrl"`
	MediaURL string   `json:"mediaUrl,omitempty"`
	Group    string   `json:"group,omitempty"`
	Source   string   `json:"source"`
}

// Catalog aggregates the items of every configured source and answers
// lookups, listings, and searches. Refresh rebuilds the whole catalog and
// swaps it in atomically; readers never see a half-built state.
type Catalog struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	resolver   *logos.Resolver
	pool       *ants.Pool

	// byID and ordered are replaced together under mu on every refresh, so
	// a lookup and a listing taken at the same moment agree on the catalog
	// generation.
	mu      sync.RWMutex
	byID    *xsync.MapOf[string, Item]
	ordered []Item

	clientsMu sync.Mutex
	clients   map[string]*xtream.Client
}

// New builds an empty catalog. The worker pool bounds how many sources are
// imported concurrently during Refresh.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, resolver *logos.Resolver, pool *ants.Pool) *Catalog {
	return &Catalog{
		cfg:        cfg,
		httpClient: httpClient,
		resolver:   resolver,
		pool:       pool,
		byID:       xsync.NewMapOf[string, Item](),
		clients:    make(map[string]*xtream.Client),
	}
}

// Refresh imports every configured source concurrently and swaps the new
// catalog in. A source that fails to import keeps the catalog of the
// sources that succeeded; the error reports the failures.
func (c *Catalog) Refresh(ctx context.Context) error {
	var wg sync.WaitGroup
	var collectMu sync.Mutex
	var all []Item
	var errs []error

	for i := range c.cfg.Sources {
		source := &c.cfg.Sources[i]
		wg.Add(1)

		task := func() {
			defer wg.Done()
			items, err := c.importSource(ctx, source)
			collectMu.Lock()
			if err != nil {
				errs = append(errs, fmt.Errorf("source %s: %w", source.Name, err))
			} else {
				all = append(all, items...)
			}
			collectMu.Unlock()
		}
		if err := c.pool.Submit(task); err != nil {
			// Pool saturated or released; do the work inline.
			task()
		}
	}
	wg.Wait()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Type != all[j].Type {
			return all[i].Type < all[j].Type
		}
		return all[i].Name < all[j].Name
	})

	byID := xsync.NewMapOf[string, Item]()
	for _, item := range all {
		byID.Store(item.ID, item)
	}
	c.mu.Lock()
	c.byID = byID
	c.ordered = all
	c.mu.Unlock()

	logger.Info("[CATALOG] refreshed: %d items across %d sources (%d failures)", len(all), len(c.cfg.Sources), len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("catalog refresh: %d of %d sources failed: %v", len(errs), len(c.cfg.Sources), errs)
	}
	return nil
}

// index returns the current catalog generation's lookup map.
func (c *Catalog) index() *xsync.MapOf[string, Item] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID
}

// Get returns the item with the given id.
func (c *Catalog) Get(id string) (Item, bool) {
	return c.index().Load(id)
}

// Items lists the catalog, optionally filtered by type and group.
func (c *Catalog) Items(itemType ItemType, group string) []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Item, 0, len(c.ordered))
	for _, item := range c.ordered {
		if itemType != "" && item.Type != itemType {
			continue
		}
		if group != "" && item.Group != group {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Search matches the query against normalized item names, so quality tags,
// case, and diacritics never get in the way of finding a channel.
func (c *Catalog) Search(query string) []Item {
	key := normalize.Key(query)
	if key == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Item
	for _, item := range c.ordered {
		if strings.Contains(normalize.Key(item.Name), key) {
			out = append(out, item)
		}
	}
	return out
}

// Size reports the number of catalog items.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ordered)
}

// Request builds the playback request for a catalog item. Series items are
// containers, not streams; playing one of their episodes goes through
// SeriesDetail first, which registers the episodes as playable items.
func (c *Catalog) Request(id string) (session.PlaybackRequest, error) {
	item, ok := c.index().Load(id)
	if !ok {
		return session.PlaybackRequest{}, fmt.Errorf("unknown catalog item %q", id)
	}
	if item.MediaURL == "" {
		return session.PlaybackRequest{}, fmt.Errorf("catalog item %q is not directly playable", id)
	}
	return session.PlaybackRequest{
		MediaURL:       item.MediaURL,
		DisplayName:    item.Name,
		DisplayLogoURL: item.LogoURL,
	}, nil
}

// SeriesDetail is the browse payload for one series: provider metadata
// plus the episode list, flattened and ordered by season and episode.
type SeriesDetail struct {
	Plot     string `json:"plot,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Rating   string `json:"rating,omitempty"`
	Episodes []Item `json:"episodes"`
}

// VODInfo fetches provider detail metadata for a movie item.
func (c *Catalog) VODInfo(ctx context.Context, id string) (*xtream.VODInfo, error) {
	item, xc, err := c.detailClient(id, TypeVOD)
	if err != nil {
		return nil, err
	}
	sid, err := providerID(item.ID)
	if err != nil {
		return nil, err
	}
	return xc.GetVODInfo(ctx, sid)
}

// SeriesDetail fetches a series' episode list and registers every episode
// as a playable catalog item, so a subsequent Request by episode id works.
func (c *Catalog) SeriesDetail(ctx context.Context, id string) (*SeriesDetail, error) {
	item, xc, err := c.detailClient(id, TypeSeries)
	if err != nil {
		return nil, err
	}
	sid, err := providerID(item.ID)
	if err != nil {
		return nil, err
	}

	info, err := xc.GetSeriesInfo(ctx, sid)
	if err != nil {
		return nil, err
	}

	seasons := make([]string, 0, len(info.Episodes))
	for season := range info.Episodes {
		seasons = append(seasons, season)
	}
	sort.Slice(seasons, func(i, j int) bool {
		a, _ := strconv.Atoi(seasons[i])
		b, _ := strconv.Atoi(seasons[j])
		return a < b
	})

	detail := &SeriesDetail{
		Plot:   info.Info.Plot,
		Genre:  info.Info.Genre,
		Rating: info.Info.Rating,
	}
	index := c.index()
	for _, season := range seasons {
		seasonNum, _ := strconv.Atoi(season)
		for _, ep := range info.Episodes[season] {
			name := fmt.Sprintf("S%02dE%02d", seasonNum, ep.EpisodeNum)
			if ep.Title != "" {
				name += " " + ep.Title
			}
			episode := Item{
				ID:       fmt.Sprintf("%s:episode:%s", item.Source, ep.ID),
				Type:     TypeEpisode,
				Name:     name,
				LogoURL:  item.LogoURL,
				MediaURL: xc.SeriesURL(ep.ID, ep.ContainerExtension),
				Group:    item.Name,
				Source:   item.Source,
			}
			index.Store(episode.ID, episode)
			detail.Episodes = append(detail.Episodes, episode)
		}
	}

	logger.Debug("[CATALOG] %s: series %q resolved to %d episodes", item.Source, item.Name, len(detail.Episodes))
	return detail, nil
}

// detailClient resolves a catalog item of the expected type to the Xtream
// client of its source. M3U items carry no detail metadata.
func (c *Catalog) detailClient(id string, want ItemType) (Item, *xtream.Client, error) {
	item, ok := c.index().Load(id)
	if !ok {
		return Item{}, nil, fmt.Errorf("unknown catalog item %q", id)
	}
	if item.Type != want {
		return Item{}, nil, fmt.Errorf("catalog item %q is %s, not %s", id, item.Type, want)
	}
	source := c.cfg.GetSourceByName(item.Source)
	if source == nil || source.Kind == "m3u" {
		return Item{}, nil, fmt.Errorf("catalog item %q has no detail source", id)
	}
	return item, c.clientFor(source), nil
}

// providerID extracts the numeric provider stream id from a catalog item
// id of the form "<source>:<type>:<id>".
func providerID(id string) (int, error) {
	i := strings.LastIndex(id, ":")
	if i < 0 {
		return 0, fmt.Errorf("malformed catalog item id %q", id)
	}
	sid, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed catalog item id %q: %w", id, err)
	}
	return sid, nil
}

func (c *Catalog) importSource(ctx context.Context, source *config.SourceConfig) ([]Item, error) {
	if source.Kind == "m3u" {
		return c.importM3U(ctx, source)
	}
	return c.importXtream(ctx, source)
}

func (c *Catalog) importM3U(ctx context.Context, source *config.SourceConfig) ([]Item, error) {
	entries, err := playlist.Fetch(ctx, c.httpClient, c.cfg, source)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(entries))
	for i, entry := range entries {
		items = append(items, Item{
			ID:       fmt.Sprintf("%s:m3u:%d", source.Name, i),
			Type:     TypeLive,
			Name:     entry.Name,
			LogoURL:  c.logoFor(entry.Name, entry.LogoURL),
			MediaURL: entry.MediaURL,
			Group:    entry.Group,
			Source:   source.Name,
		})
	}
	return items, nil
}

func (c *Catalog) importXtream(ctx context.Context, source *config.SourceConfig) ([]Item, error) {
	xc := c.clientFor(source)

	live, err := xc.LiveStreams(ctx)
	if err != nil {
		return nil, err
	}

	// Category lists turn provider category ids into human group names.
	// Their failure degrades to raw ids, never to a failed import.
	cats, err := xc.LiveCategories(ctx)
	if err != nil {
		logger.Warn("[CATALOG] %s: live categories unavailable: %v", source.Name, err)
	}
	liveCats := categoryNames(cats)
	cats, err = xc.VODCategories(ctx)
	if err != nil {
		logger.Warn("[CATALOG] %s: vod categories unavailable: %v", source.Name, err)
	}
	vodCats := categoryNames(cats)
	cats, err = xc.SeriesCategories(ctx)
	if err != nil {
		logger.Warn("[CATALOG] %s: series categories unavailable: %v", source.Name, err)
	}
	seriesCats := categoryNames(cats)

	var items []Item
	for _, stream := range live {
		items = append(items, Item{
			ID:       fmt.Sprintf("%s:live:%d", source.Name, stream.StreamID),
			Type:     TypeLive,
			Name:     stream.Name,
			LogoURL:  c.logoFor(stream.Name, stream.StreamIcon),
			MediaURL: xc.LiveURL(stream.StreamID),
			Group:    groupName(liveCats, stream.CategoryID),
			Source:   source.Name,
		})
	}

	// VOD and series lists are secondary: their failure degrades to a
	// live-only catalog instead of failing the whole source.
	vod, err := xc.VODStreams(ctx)
	if err != nil {
		logger.Warn("[CATALOG] %s: VOD list unavailable: %v", source.Name, err)
	}
	for _, stream := range vod {
		items = append(items, Item{
			ID:       fmt.Sprintf("%s:vod:%d", source.Name, stream.StreamID),
			Type:     TypeVOD,
			Name:     stream.Name,
			LogoURL:  c.logoFor(stream.Name, stream.StreamIcon),
			MediaURL: xc.MovieURL(stream.StreamID, stream.ContainerExtension),
			Group:    groupName(vodCats, stream.CategoryID),
			Source:   source.Name,
		})
	}

	series, err := xc.SeriesList(ctx)
	if err != nil {
		logger.Warn("[CATALOG] %s: series list unavailable: %v", source.Name, err)
	}
	for _, s := range series {
		items = append(items, Item{
			ID:      fmt.Sprintf("%s:series:%d", source.Name, s.SeriesID),
			Type:    TypeSeries,
			Name:    s.Name,
			LogoURL: c.logoFor(s.Name, s.Cover),
			Group:   groupName(seriesCats, s.CategoryID),
			Source:  source.Name,
		})
	}

	return items, nil
}

// categoryNames folds a provider category list into an id to name map.
func categoryNames(cats []xtream.Category) map[string]string {
	names := make(map[string]string, len(cats))
	for _, cat := range cats {
		names[cat.CategoryID] = cat.CategoryName
	}
	return names
}

// groupName resolves a provider category id to its display name, keeping
// the raw id when the category list was unavailable.
func groupName(names map[string]string, categoryID string) string {
	if name, ok := names[categoryID]; ok {
		return name
	}
	return categoryID
}

// logoFor prefers the provider's own artwork and falls back to directory
// resolution by channel name.
func (c *Catalog) logoFor(name, providerLogo string) string {
	if providerLogo != "" {
		return providerLogo
	}
	return c.resolver.Resolve(name)
}

func (c *Catalog) clientFor(source *config.SourceConfig) *xtream.Client {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	xc, ok := c.clients[source.Name]
	if !ok {
		xc = xtream.NewClient(c.httpClient, c.cfg, source)
		c.clients[source.Name] = xc
	}
	return xc
}
