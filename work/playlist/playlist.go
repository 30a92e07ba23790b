package playlist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	regexp "github.com/grafana/regexp"
	"github.com/grafov/m3u8"

	"iptv-session/work/client"
	"iptv-session/work/config"
	"iptv-session/work/logger"
	"iptv-session/work/utils"
)

const maxPlaylistBytes = 64 << 20

// Entry is one channel or VOD item parsed from an M3U playlist.
type Entry struct {
	Name     string
	MediaURL string
	LogoURL  string
	Group    string
	TvgID    string
}

// attrRegex matches key="value" pairs inside an EXTINF line. Quoted values
// may contain spaces, which is why this is not a Fields split.
var attrRegex = regexp.MustCompile(`([a-zA-Z0-9-]+)="([^"]*)"`)

// Fetch downloads and parses the source's M3U playlist.
func Fetch(ctx context.Context, httpClient *client.HeaderSettingClient, cfg *config.Config, source *config.SourceConfig) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("bad playlist URL: %w", err)
	}

	resp, err := httpClient.DoWithHeaders(req, source.UserAgent, source.ReqOrigin, source.ReqReferrer)
	if err != nil {
		return nil, fmt.Errorf("playlist fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("playlist returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, fmt.Errorf("playlist read failed: %w", err)
	}

	// Strict grafov decode handles well-formed HLS documents. IPTV channel
	// lists are rarely strict-valid, so those fall through to the EXTINF
	// scanner below.
	if playlist, listType, err := m3u8.Decode(*bytes.NewBuffer(body), true); err == nil {
		entries := parseGrafov(playlist, listType, source)
		if len(entries) > 0 {
			logger.Info("[PLAYLIST] %s: grafov parsed %d entries from %s", source.Name, len(entries), utils.LogURL(cfg, source.URL))
			return entries, nil
		}
	}

	entries := Parse(bufio.NewScanner(bytes.NewReader(body)))
	logger.Info("[PLAYLIST] %s: parsed %d entries from %s", source.Name, len(entries), utils.LogURL(cfg, source.URL))
	return entries, nil
}

// parseGrafov converts a decoded HLS document into catalog entries. A media
// playlist is one playable stream, so the playlist URL itself is the entry;
// a master playlist contributes one entry per named variant.
func parseGrafov(playlist m3u8.Playlist, listType m3u8.ListType, source *config.SourceConfig) []Entry {
	var entries []Entry

	switch listType {
	case m3u8.MEDIA:
		entries = append(entries, Entry{
			Name:     source.Name,
			MediaURL: source.URL,
		})

	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for _, variant := range master.Variants {
			if variant == nil {
				break
			}
			name := variant.Name
			if name == "" && variant.Resolution != "" {
				name = fmt.Sprintf("%s %s", source.Name, variant.Resolution)
			} else if name == "" {
				name = fmt.Sprintf("%s %d", source.Name, variant.Bandwidth)
			}
			entries = append(entries, Entry{
				Name:     name,
				MediaURL: variant.URI,
			})
		}
	}
	return entries
}

// Parse reads an M3U document line by line: each EXTINF carries the
// metadata for the next URL line. Lines that fit neither shape are skipped,
// so partially malformed playlists still yield their good entries.
func Parse(scanner *bufio.Scanner) []Entry {
	var entries []Entry
	var pending *Entry

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			entry := parseExtinf(line)
			pending = &entry

		case pending != nil && (strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://")):
			pending.MediaURL = line
			if pending.Name == "" {
				pending.Name = "Unknown"
			}
			entries = append(entries, *pending)
			pending = nil
		}
	}
	return entries
}

// parseExtinf extracts the display name and tvg attributes from one EXTINF
// line. The display name is everything after the last comma outside quotes.
func parseExtinf(line string) Entry {
	body := strings.TrimPrefix(line, "#EXTINF:")

	lastComma := -1
	inQuotes := false
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] == '"' {
			inQuotes = !inQuotes
		} else if body[i] == ',' && !inQuotes {
			lastComma = i
			break
		}
	}

	var entry Entry
	attrPart := body
	if lastComma >= 0 {
		attrPart = body[:lastComma]
		entry.Name = strings.TrimSpace(body[lastComma+1:])
	}

	for _, m := range attrRegex.FindAllStringSubmatch(attrPart, -1) {
		switch strings.ToLower(m[1]) {
		case "tvg-name":
			if entry.Name == "" {
				entry.Name = m[2]
			}
		case "tvg-logo":
			entry.LogoURL = m[2]
		case "tvg-id":
			entry.TvgID = m[2]
		case "group-title":
			entry.Group = m[2]
		}
	}
	return entry
}
