package playlist

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-session/work/client"
	"iptv-session/work/config"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="espn.us" tvg-name="ESPN HD" tvg-logo="http://img/espn.png" group-title="Sports",ESPN HD
http://srv/live/espn.m3u8
#EXTINF:-1 group-title="News, World" tvg-logo="http://img/news.png",World News
http://srv/live/news.m3u8
#EXTINF:-1,Bare Channel
http://srv/live/bare.ts
# some stray comment
not-a-url-line
#EXTINF:-1 tvg-name="Orphan Without URL",Orphan
`

func TestParse(t *testing.T) {
	entries := Parse(bufio.NewScanner(strings.NewReader(samplePlaylist)))
	require.Len(t, entries, 3)

	assert.Equal(t, "ESPN HD", entries[0].Name)
	assert.Equal(t, "http://srv/live/espn.m3u8", entries[0].MediaURL)
	assert.Equal(t, "http://img/espn.png", entries[0].LogoURL)
	assert.Equal(t, "Sports", entries[0].Group)
	assert.Equal(t, "espn.us", entries[0].TvgID)

	// Quoted attribute values keep their commas; the display name is the
	// text after the last comma outside quotes.
	assert.Equal(t, "World News", entries[1].Name)
	assert.Equal(t, "News, World", entries[1].Group)

	assert.Equal(t, "Bare Channel", entries[2].Name)
	assert.Empty(t, entries[2].LogoURL)
}

func TestParseEmptyAndJunk(t *testing.T) {
	assert.Empty(t, Parse(bufio.NewScanner(strings.NewReader(""))))
	assert.Empty(t, Parse(bufio.NewScanner(strings.NewReader("just\nnoise\nlines"))))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, samplePlaylist)
	}))
	defer srv.Close()

	source := &config.SourceConfig{Name: "test", Kind: "m3u", URL: srv.URL}
	entries, err := Fetch(context.Background(), client.NewHeaderSettingClient(), &config.Config{}, source)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFetchMasterPlaylistYieldsVariants(t *testing.T) {
	const master = `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=800000,RESOLUTION=640x360
http://srv/low.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2500000,RESOLUTION=1920x1080
http://srv/high.m3u8
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, master)
	}))
	defer srv.Close()

	source := &config.SourceConfig{Name: "event", Kind: "m3u", URL: srv.URL}
	entries, err := Fetch(context.Background(), client.NewHeaderSettingClient(), &config.Config{}, source)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "http://srv/low.m3u8", entries[0].MediaURL)
	assert.Equal(t, "event 640x360", entries[0].Name)
	assert.Equal(t, "http://srv/high.m3u8", entries[1].MediaURL)
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	source := &config.SourceConfig{Name: "test", Kind: "m3u", URL: srv.URL}
	_, err := Fetch(context.Background(), client.NewHeaderSettingClient(), &config.Config{}, source)
	assert.ErrorContains(t, err, "HTTP 404")
}
