package storage

import "testing"

func TestContentType(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"2026/01/01/00/20260101_003930_chi_cfd_1201.mp3", "audio/mpeg"},
		{"a.WAV", "audio/wav"},
		{"b.m4a", "audio/mp4"},
		{"c.ogg", "audio/ogg"},
		{"noext", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentType(tt.key); got != tt.want {
			t.Errorf("ContentType(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestURL(t *testing.T) {
	s := &AudioStore{bucket: "radio-audio", publicURL: "https://cdn.example.com"}
	got := s.URL("2026/01/01/00/x.mp3")
	if got != "https://cdn.example.com/2026/01/01/00/x.mp3" {
		t.Errorf("URL = %q", got)
	}

	s = &AudioStore{bucket: "radio-audio"}
	got = s.URL("x.mp3")
	if got != "https://radio-audio.s3.amazonaws.com/x.mp3" {
		t.Errorf("fallback URL = %q", got)
	}
}
