package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"iptv-session/work/config"
)

func TestObfuscateURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"credentials in path", "http://host:8080/user/pass/123.m3u8", "http://host:8080/***"},
		{"token in query", "https://cdn.example.com/live.m3u8?token=abc", "https://cdn.example.com/***?***"},
		{"bare host", "http://host:8080", "http://host:8080"},
		{"root path only", "http://host/", "http://host"},
		{"empty", "", ""},
		{"unparseable", "http://host\x7f/path", "***OBFUSCATED***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObfuscateURL(tt.in))
		})
	}
}

func TestLogURLHonorsConfig(t *testing.T) {
	raw := "http://host/user/pass/123.ts"

	assert.Equal(t, raw, LogURL(&config.Config{ObfuscateUrls: false}, raw))
	assert.Equal(t, "http://host/***", LogURL(&config.Config{ObfuscateUrls: true}, raw))
}

func TestSurfaceID(t *testing.T) {
	assert.Equal(t, "Living_Room_TV", SurfaceID("Living Room TV"))
	assert.Equal(t, "kitchen", SurfaceID("kitchen"))
	assert.Equal(t, "a_b_c", SurfaceID("a/b\\c"))
	assert.Equal(t, "name", SurfaceID(`"name"`))
	assert.Equal(t, "x_y", SurfaceID("x,, :y "))
}
