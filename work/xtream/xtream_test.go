package xtream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-session/work/client"
	"iptv-session/work/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	source := &config.SourceConfig{
		Name:              "test",
		Kind:              "xtream",
		URL:               srv.URL,
		Username:          "user",
		Password:          "pass",
		MaxRequestsPerSec: 100,
	}
	return NewClient(client.NewHeaderSettingClient(), &config.Config{}, source)
}

func TestLiveStreamsAction(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/player_api.php", r.URL.Path)
		assert.Equal(t, "user", r.URL.Query().Get("username"))
		assert.Equal(t, "pass", r.URL.Query().Get("password"))
		assert.Equal(t, "get_live_streams", r.URL.Query().Get("action"))
		fmt.Fprint(w, `[
			{"stream_id": 101, "name": "ESPN HD", "category_id": "7", "stream_icon": "http://img/espn.png", "epg_channel_id": "espn.us"},
			{"stream_id": 102, "name": "Globo", "category_id": "3"}
		]`)
	})

	streams, err := c.LiveStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, 101, streams[0].StreamID)
	assert.Equal(t, "ESPN HD", streams[0].Name)
	assert.Equal(t, "espn.us", streams[0].EpgChannelID)
}

func TestVODStreamsCarryContainerExtension(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get_vod_streams", r.URL.Query().Get("action"))
		fmt.Fprint(w, `[{"stream_id": 55, "name": "Some Movie", "container_extension": "mkv"}]`)
	})

	streams, err := c.VODStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "mkv", streams[0].ContainerExtension)
}

func TestGetVODInfo(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get_vod_info", r.URL.Query().Get("action"))
		assert.Equal(t, "55", r.URL.Query().Get("vod_id"))
		fmt.Fprint(w, `{"info": {"plot": "A movie.", "genre": "Drama"}, "movie_data": {"stream_id": 55, "name": "Some Movie", "container_extension": "mp4"}}`)
	})

	info, err := c.GetVODInfo(context.Background(), 55)
	require.NoError(t, err)
	assert.Equal(t, "A movie.", info.Info.Plot)
	assert.Equal(t, 55, info.MovieData.StreamID)
}

func TestGetSeriesInfo(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get_series_info", r.URL.Query().Get("action"))
		assert.Equal(t, "12", r.URL.Query().Get("series_id"))
		fmt.Fprint(w, `{
			"info": {"plot": "A show.", "genre": "Crime"},
			"episodes": {
				"1": [
					{"id": "9001", "title": "Pilot", "episode_num": 1, "container_extension": "mkv"},
					{"id": "9002", "title": "Second", "episode_num": 2, "container_extension": "mkv"}
				],
				"2": [
					{"id": "9010", "title": "Opener", "episode_num": 1, "container_extension": "mp4"}
				]
			}
		}`)
	})

	info, err := c.GetSeriesInfo(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, "A show.", info.Info.Plot)
	require.Len(t, info.Episodes["1"], 2)
	assert.Equal(t, "9001", info.Episodes["1"][0].ID)
	assert.Equal(t, "mkv", info.Episodes["1"][0].ContainerExtension)
	require.Len(t, info.Episodes["2"], 1)
}

func TestAPIErrorsPropagate(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	})

	_, err := c.LiveStreams(context.Background())
	assert.ErrorContains(t, err, "HTTP 403")

	c2 := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	})
	_, err = c2.SeriesList(context.Background())
	assert.ErrorContains(t, err, "parse failed")
}

func TestPlaybackURLConstruction(t *testing.T) {
	source := &config.SourceConfig{
		URL:      "http://provider:8080",
		Username: "user",
		Password: "pass",
	}
	c := NewClient(client.NewHeaderSettingClient(), &config.Config{}, source)

	assert.Equal(t, "http://provider:8080/live/user/pass/101.m3u8", c.LiveURL(101))
	assert.Equal(t, "http://provider:8080/movie/user/pass/55.mkv", c.MovieURL(55, "mkv"))
	assert.Equal(t, "http://provider:8080/movie/user/pass/55.mp4", c.MovieURL(55, ""))
	assert.Equal(t, "http://provider:8080/series/user/pass/900.mp4", c.SeriesURL("900", ""))
	assert.Equal(t, "http://provider:8080/series/user/pass/901.mkv", c.SeriesURL("901", "mkv"))
}
