package xtream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/ratelimit"

	"iptv-session/work/client"
	"iptv-session/work/config"
	"iptv-session/work/logger"
	"iptv-session/work/utils"
)

// LiveStream is one live channel record from the get_live_streams action.
type LiveStream struct {
	StreamID     int    `json:"stream_id"`
	Name         string `json:"name"`
	CategoryID   string `json:"category_id"`
	StreamIcon   string `json:"stream_icon"`
	EpgChannelID string `json:"epg_channel_id"`
}

// VODStream is one movie record from the get_vod_streams action. The
// container extension decides the playback URL suffix and therefore the
// engine selection downstream.
type VODStream struct {
	StreamID           int    `json:"stream_id"`
	Name               string `json:"name"`
	CategoryID         string `json:"category_id"`
	StreamIcon         string `json:"stream_icon"`
	ContainerExtension string `json:"container_extension"`
}

// Series is one series record from the get_series action.
type Series struct {
	SeriesID   int    `json:"series_id"`
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
	Cover      string `json:"cover"`
}

// Category is one entry of any of the three *_categories actions.
type Category struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
}

// VODInfo is the detail payload of the get_vod_info action, trimmed to the
// fields the catalog surfaces.
type VODInfo struct {
	Info struct {
		Plot       string `json:"plot"`
		Genre      string `json:"genre"`
		Duration   string `json:"duration"`
		Rating     string `json:"rating"`
		CoverBig   string `json:"cover_big"`
		ReleaseDay string `json:"releasedate"`
	} `json:"info"`
	MovieData struct {
		StreamID           int    `json:"stream_id"`
		Name               string `json:"name"`
		ContainerExtension string `json:"container_extension"`
	} `json:"movie_data"`
}

// SeriesEpisode is one episode record inside the get_series_info payload.
// Episode ids are strings on the wire and feed straight into SeriesURL.
type SeriesEpisode struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	EpisodeNum         int    `json:"episode_num"`
	ContainerExtension string `json:"container_extension"`
}

// SeriesInfo is the detail payload of the get_series_info action. Episodes
// are keyed by season number (as a string, matching the wire format).
type SeriesInfo struct {
	Info struct {
		Plot        string `json:"plot"`
		Genre       string `json:"genre"`
		Cover       string `json:"cover"`
		Rating      string `json:"rating"`
		ReleaseDate string `json:"releaseDate"`
	} `json:"info"`
	Episodes map[string][]SeriesEpisode `json:"episodes"`
}

// Client talks to one Xtream-codes provider's player_api.php endpoint.
// Every call is rate limited per source so catalog rebuilds cannot hammer
// the provider.
type Client struct {
	httpClient *client.HeaderSettingClient
	cfg        *config.Config
	source     *config.SourceConfig
	limiter    ratelimit.Limiter
}

// NewClient builds a client for one configured source. Sources with no
// explicit request rate get a conservative default.
func NewClient(httpClient *client.HeaderSettingClient, cfg *config.Config, source *config.SourceConfig) *Client {
	rps := source.MaxRequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		source:     source,
		limiter:    ratelimit.New(rps),
	}
}

// Source returns the source configuration this client serves.
func (c *Client) Source() *config.SourceConfig { return c.source }

// LiveStreams fetches the provider's live channel list.
func (c *Client) LiveStreams(ctx context.Context) ([]LiveStream, error) {
	return fetchAction[LiveStream](ctx, c, "get_live_streams")
}

// VODStreams fetches the provider's movie list.
func (c *Client) VODStreams(ctx context.Context) ([]VODStream, error) {
	return fetchAction[VODStream](ctx, c, "get_vod_streams")
}

// SeriesList fetches the provider's series list.
func (c *Client) SeriesList(ctx context.Context) ([]Series, error) {
	return fetchAction[Series](ctx, c, "get_series")
}

// LiveCategories fetches the live channel category list.
func (c *Client) LiveCategories(ctx context.Context) ([]Category, error) {
	return fetchAction[Category](ctx, c, "get_live_categories")
}

// VODCategories fetches the movie category list.
func (c *Client) VODCategories(ctx context.Context) ([]Category, error) {
	return fetchAction[Category](ctx, c, "get_vod_categories")
}

// SeriesCategories fetches the series category list.
func (c *Client) SeriesCategories(ctx context.Context) ([]Category, error) {
	return fetchAction[Category](ctx, c, "get_series_categories")
}

// GetVODInfo fetches detail metadata for one movie.
func (c *Client) GetVODInfo(ctx context.Context, streamID int) (*VODInfo, error) {
	c.limiter.Take()

	apiURL := c.actionURL("get_vod_info") + fmt.Sprintf("&vod_id=%d", streamID)
	body, err := c.get(ctx, apiURL)
	if err != nil {
		return nil, err
	}

	var info VODInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("vod info parse failed: %w", err)
	}
	return &info, nil
}

// GetSeriesInfo fetches detail metadata and the episode list for one
// series.
func (c *Client) GetSeriesInfo(ctx context.Context, seriesID int) (*SeriesInfo, error) {
	c.limiter.Take()

	apiURL := c.actionURL("get_series_info") + fmt.Sprintf("&series_id=%d", seriesID)
	body, err := c.get(ctx, apiURL)
	if err != nil {
		return nil, err
	}

	var info SeriesInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("series info parse failed: %w", err)
	}
	return &info, nil
}

// LiveURL builds the playback URL for a live channel.
func (c *Client) LiveURL(streamID int) string {
	return fmt.Sprintf("%s/live/%s/%s/%d.m3u8", c.source.URL, c.source.Username, c.source.Password, streamID)
}

// MovieURL builds the playback URL for a movie, honoring its container
// extension so engine selection sees the real format.
func (c *Client) MovieURL(streamID int, containerExtension string) string {
	if containerExtension == "" {
		containerExtension = "mp4"
	}
	return fmt.Sprintf("%s/movie/%s/%s/%d.%s", c.source.URL, c.source.Username, c.source.Password, streamID, containerExtension)
}

// SeriesURL builds the playback URL for a series episode. Episode ids come
// from get_series_info and are opaque strings.
func (c *Client) SeriesURL(episodeID, containerExtension string) string {
	if containerExtension == "" {
		containerExtension = "mp4"
	}
	return fmt.Sprintf("%s/series/%s/%s/%s.%s", c.source.URL, c.source.Username, c.source.Password, episodeID, containerExtension)
}

func (c *Client) actionURL(action string) string {
	return fmt.Sprintf("%s/player_api.php?username=%s&password=%s&action=%s",
		c.source.URL, url.QueryEscape(c.source.Username), url.QueryEscape(c.source.Password), action)
}

// fetchAction runs one list-returning API action, applying the source's
// rate limit before the request goes out.
func fetchAction[T any](ctx context.Context, c *Client, action string) ([]T, error) {
	c.limiter.Take()
	logger.Debug("[XTREAM] %s: %s from %s", c.source.Name, action, utils.LogURL(c.cfg, c.source.URL))

	body, err := c.get(ctx, c.actionURL(action))
	if err != nil {
		return nil, err
	}

	var items []T
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%s parse failed: %w", action, err)
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, apiURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.DoWithHeaders(req, c.source.UserAgent, c.source.ReqOrigin, c.source.ReqReferrer)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
