package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the playback session
// service. It covers the reconnect/stall policy of the session controller,
// logo directory resolution, catalog sources, and the HTTP surface.
type Config struct {
	BaseURL       string `json:"baseURL"`       // Base URL for the application (used for links in generated payloads)
	ListenPort    int    `json:"listenPort"`    // TCP port the HTTP surface listens on
	Debug         bool   `json:"debug"`         // Enable debug logging
	ObfuscateUrls bool   `json:"obfuscateUrls"` // Obfuscate stream/credential URLs in logs
	WorkerThreads int    `json:"workerThreads"` // Number of worker threads for background tasks (imports, probes)

	// Playback policy. These are deliberately configuration, not constants:
	// deployments disagree on sensible stall windows and retry budgets.
	StallWindow        time.Duration `json:"stallWindow"`        // Quiescence window before a buffering stream counts as stalled
	ReconnectBaseDelay time.Duration `json:"reconnectBaseDelay"` // Base delay for reconnect backoff
	ReconnectMaxDelay  time.Duration `json:"reconnectMaxDelay"`  // Cap applied to the reconnect backoff
	MaxRetries         int           `json:"maxRetries"`         // Reconnect attempts before a session goes fatal
	StallPromoteAfter  int           `json:"stallPromoteAfter"`  // Soft stall recoveries before a stall is promoted to a network error
	OverlayQuiescence  time.Duration `json:"overlayQuiescence"`  // Pointer inactivity before the control overlay hides

	// Logo resolution.
	LogoDirectoryURL    string        `json:"logoDirectoryURL"`    // Remote channel directory of {name, logo} records
	LogoCachePath       string        `json:"logoCachePath"`       // On-disk cache of the fetched directory document
	LogoFallbackURL     string        `json:"logoFallbackURL"`     // Fixed fallback returned on any miss or failure
	LogoRefreshInterval time.Duration `json:"logoRefreshInterval"` // Minimum age before an explicit refresh refetches the directory
	BadLogoTTL          time.Duration `json:"badLogoTTL"`          // How long a render-failed logo URL stays pinned to the fallback

	// Catalog.
	Sources      []SourceConfig `json:"sources"`      // Configured catalog sources (xtream or m3u)
	ProbeTimeout time.Duration  `json:"probeTimeout"` // Per-channel timeout for reachability probes

	// Persistence.
	ProgressDBPath string `json:"progressDBPath"` // SQLite file for VOD resume positions

	// Admin surface. Bcrypt hash of the reload passcode; empty disables admin routes.
	AdminPassHash string `json:"adminPassHash"`
}

// SourceConfig represents the configuration for a single catalog source.
// Kind selects between an Xtream-codes API endpoint and a raw M3U playlist.
type SourceConfig struct {
	Name              string `json:"name"`              // Descriptive name for the source
	Kind              string `json:"kind"`              // "xtream" or "m3u"
	URL               string `json:"url"`               // API base URL (xtream) or playlist URL (m3u)
	Username          string `json:"username"`          // Xtream username
	Password          string `json:"password"`          // Xtream password
	MaxRequestsPerSec int    `json:"maxRequestsPerSec"` // Rate limit applied to API calls against this source
	UserAgent         string `json:"userAgent"`         // HTTP User-Agent header for requests
	ReqOrigin         string `json:"reqOrigin"`         // HTTP Origin header for requests
	ReqReferrer       string `json:"reqReferrer"`       // HTTP Referer header for requests
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling
// configuration. Duration fields (e.g., "15s") are parsed into time.Duration.
type ConfigFile struct {
	BaseURL       string `json:"baseURL"`
	ListenPort    int    `json:"listenPort"`
	Debug         bool   `json:"debug"`
	ObfuscateUrls bool   `json:"obfuscateUrls"`
	WorkerThreads int    `json:"workerThreads"`

	StallWindow        string `json:"stallWindow"`        // Duration string (e.g., "15s")
	ReconnectBaseDelay string `json:"reconnectBaseDelay"` // Duration string (e.g., "5s")
	ReconnectMaxDelay  string `json:"reconnectMaxDelay"`  // Duration string (e.g., "30s")
	MaxRetries         int    `json:"maxRetries"`
	StallPromoteAfter  int    `json:"stallPromoteAfter"`
	OverlayQuiescence  string `json:"overlayQuiescence"` // Duration string (e.g., "3s")

	LogoDirectoryURL    string `json:"logoDirectoryURL"`
	LogoCachePath       string `json:"logoCachePath"`
	LogoFallbackURL     string `json:"logoFallbackURL"`
	LogoRefreshInterval string `json:"logoRefreshInterval"` // Duration string (e.g., "12h")
	BadLogoTTL          string `json:"badLogoTTL"`          // Duration string (e.g., "1h")

	Sources      []SourceConfig `json:"sources"`
	ProbeTimeout string         `json:"probeTimeout"` // Duration string (e.g., "5s")

	ProgressDBPath string `json:"progressDBPath"`
	AdminPassHash  string `json:"adminPassHash"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
	configPath  = "/settings/config.json"
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from the configured path.
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
//
// Returns:
//   - *Config: fully validated configuration object
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// Cache for future calls
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Sources: %d configured", len(config.Sources))
		for i := range config.Sources {
			src := &config.Sources[i]
			log.Printf("    Source %d (%s, %s): %s", i+1, src.Name, src.Kind, obfuscateURL(src.URL))
		}
		log.Printf("  Stall window: %s", config.StallWindow)
		log.Printf("  Reconnect backoff: base %s, cap %s, %d retries",
			config.ReconnectBaseDelay, config.ReconnectMaxDelay, config.MaxRetries)
		log.Printf("  Logo directory: %s", obfuscateURL(config.LogoDirectoryURL))
	}

	return config
}

// SetConfigPath overrides the config file location. Must be called before the
// first LoadConfig (or after ClearConfigCache) to take effect.
func SetConfigPath(path string) {
	configMutex.Lock()
	defer configMutex.Unlock()
	configPath = path
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:           cf.BaseURL,
		ListenPort:        cf.ListenPort,
		Debug:             cf.Debug,
		ObfuscateUrls:     cf.ObfuscateUrls,
		WorkerThreads:     cf.WorkerThreads,
		MaxRetries:        cf.MaxRetries,
		StallPromoteAfter: cf.StallPromoteAfter,
		LogoDirectoryURL:  cf.LogoDirectoryURL,
		LogoCachePath:     cf.LogoCachePath,
		LogoFallbackURL:   cf.LogoFallbackURL,
		Sources:           cf.Sources,
		ProgressDBPath:    cf.ProgressDBPath,
		AdminPassHash:     cf.AdminPassHash,
	}

	// Parse duration fields; empty strings fall through to defaults later.
	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cf.StallWindow, "stallWindow", &config.StallWindow},
		{cf.ReconnectBaseDelay, "reconnectBaseDelay", &config.ReconnectBaseDelay},
		{cf.ReconnectMaxDelay, "reconnectMaxDelay", &config.ReconnectMaxDelay},
		{cf.OverlayQuiescence, "overlayQuiescence", &config.OverlayQuiescence},
		{cf.LogoRefreshInterval, "logoRefreshInterval", &config.LogoRefreshInterval},
		{cf.BadLogoTTL, "badLogoTTL", &config.BadLogoTTL},
		{cf.ProbeTimeout, "probeTimeout", &config.ProbeTimeout},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:             "http://localhost:8080",
		ListenPort:          8080,
		Debug:               false,
		ObfuscateUrls:       false,
		WorkerThreads:       8,
		StallWindow:         15 * time.Second,
		ReconnectBaseDelay:  5 * time.Second,
		ReconnectMaxDelay:   30 * time.Second,
		MaxRetries:          3,
		StallPromoteAfter:   3,
		OverlayQuiescence:   3 * time.Second,
		LogoDirectoryURL:    "https://iptv-org.github.io/api/channels.json",
		LogoCachePath:       "/settings/logos.json",
		LogoFallbackURL:     "/logos/fallback.png",
		LogoRefreshInterval: 12 * time.Hour,
		BadLogoTTL:          time.Hour,
		Sources:             []SourceConfig{},
		ProbeTimeout:        5 * time.Second,
		ProgressDBPath:      "/settings/progress.db",
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenPort <= 0 {
		config.ListenPort = 8080
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.StallWindow <= 0 {
		config.StallWindow = 15 * time.Second
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = 5 * time.Second
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = 30 * time.Second
	}
	if config.ReconnectMaxDelay < config.ReconnectBaseDelay {
		config.ReconnectMaxDelay = config.ReconnectBaseDelay
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.StallPromoteAfter <= 0 {
		config.StallPromoteAfter = 3
	}
	if config.OverlayQuiescence <= 0 {
		config.OverlayQuiescence = 3 * time.Second
	}
	if config.LogoDirectoryURL == "" {
		config.LogoDirectoryURL = "https://iptv-org.github.io/api/channels.json"
	}
	if config.LogoCachePath == "" {
		config.LogoCachePath = "/settings/logos.json"
	}
	if config.LogoFallbackURL == "" {
		config.LogoFallbackURL = "/logos/fallback.png"
	}
	if config.LogoRefreshInterval <= 0 {
		config.LogoRefreshInterval = 12 * time.Hour
	}
	if config.BadLogoTTL <= 0 {
		config.BadLogoTTL = time.Hour
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.ProgressDBPath == "" {
		config.ProgressDBPath = "/settings/progress.db"
	}

	// Validate each source
	for i := range config.Sources {
		src := &config.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("Source_%d", i+1)
		}
		if src.Kind != "m3u" {
			src.Kind = "xtream"
		}
		if src.MaxRequestsPerSec <= 0 {
			src.MaxRequestsPerSec = 5
		}
		if src.UserAgent == "" {
			src.UserAgent = "VLC/3.0.18 LibVLC/3.0.18"
		}
		// ReqOrigin and ReqReferrer may remain empty
	}
}

// GetSourceByName returns a pointer to the SourceConfig matching the given
// name. Returns nil if no match is found.
func (c *Config) GetSourceByName(name string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i]
		}
	}
	return nil
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:             "http://localhost:8080",
		ListenPort:          8080,
		Debug:               false,
		ObfuscateUrls:       true,
		WorkerThreads:       4,
		StallWindow:         "15s",
		ReconnectBaseDelay:  "5s",
		ReconnectMaxDelay:   "30s",
		MaxRetries:          3,
		StallPromoteAfter:   3,
		OverlayQuiescence:   "3s",
		LogoDirectoryURL:    "https://iptv-org.github.io/api/channels.json",
		LogoCachePath:       "/settings/logos.json",
		LogoFallbackURL:     "/logos/fallback.png",
		LogoRefreshInterval: "12h",
		BadLogoTTL:          "1h",
		ProbeTimeout:        "5s",
		ProgressDBPath:      "/settings/progress.db",
		Sources: []SourceConfig{
			{
				Name:              "Primary Xtream Source",
				Kind:              "xtream",
				URL:               "http://example.com:8080",
				Username:          "user",
				Password:          "pass",
				MaxRequestsPerSec: 5,
				UserAgent:         "VLC/3.0.18 LibVLC/3.0.18",
			},
			{
				Name:              "Backup Playlist",
				Kind:              "m3u",
				URL:               "http://example.com/playlist.m3u8",
				MaxRequestsPerSec: 2,
				UserAgent:         "Mozilla/5.0 (Smart TV; Linux)",
				ReqOrigin:         "https://provider2.com",
				ReqReferrer:       "https://provider2.com/player",
			},
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks sensitive parts of a URL for logging.
//
// Example:
//
//	Input:  "http://example.com/secret/stream.m3u8?token=abc"
//	Output: "http://example.com/***?***"
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
