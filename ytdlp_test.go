package main

import (
	"encoding/json"
	"testing"
)

func TestIsDirectQuery(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"http://example.com/stream", true},
		{"rtmp://live.example.com/app", true},
		{"never gonna give you up", false},
		{"lofi hip hop radio", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isDirectQuery(c.query); got != c.want {
			t.Errorf("isDirectQuery(%q) = %v, want %v", c.query, got, c.want)
		}
	}
}

func TestMetadataToTrackDurationMillis(t *testing.T) {
	m := &ytdlpMetadata{Title: "Song", Duration: 212.5}
	track := metadataToTrack(m)
	if track.DurationMs != 212500 {
		t.Errorf("duration = %dms, want 212500", track.DurationMs)
	}

	m = &ytdlpMetadata{Title: "Short", Duration: 3}
	if got := metadataToTrack(m).DurationMs; got != 3000 {
		t.Errorf("duration = %dms, want 3000", got)
	}
}

func TestMetadataToTrackURLFallback(t *testing.T) {
	m := &ytdlpMetadata{WebpageURL: "https://www.youtube.com/watch?v=abc", URL: "https://googlevideo.example/raw"}
	if got := metadataToTrack(m).URL; got != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("URL = %q, want the webpage URL", got)
	}

	m = &ytdlpMetadata{URL: "https://googlevideo.example/raw"}
	if got := metadataToTrack(m).URL; got != "https://googlevideo.example/raw" {
		t.Errorf("URL = %q, want the raw URL fallback", got)
	}
}

func TestMetadataUnmarshalSearchEntries(t *testing.T) {
	dump := `{
		"title": "ytsearch1:query",
		"entries": [
			{
				"title": "Found Song",
				"uploader": "Some Channel",
				"webpage_url": "https://www.youtube.com/watch?v=xyz",
				"thumbnail": "https://i.ytimg.example/xyz.jpg",
				"duration": 245
			}
		]
	}`

	var meta ytdlpMetadata
	if err := json.Unmarshal([]byte(dump), &meta); err != nil {
		t.Fatal(err)
	}
	if len(meta.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(meta.Entries))
	}

	track := metadataToTrack(&meta.Entries[0])
	if track.Title != "Found Song" || track.Uploader != "Some Channel" {
		t.Errorf("track = %+v", track)
	}
	if track.URL != "https://www.youtube.com/watch?v=xyz" {
		t.Errorf("URL = %q", track.URL)
	}
	if track.DurationMs != 245000 {
		t.Errorf("duration = %dms, want 245000", track.DurationMs)
	}
}

func TestParseYtdlpSearchOutput(t *testing.T) {
	stdout := "https://www.youtube.com/watch?v=a1\tFirst Song\tChannel One\n" +
		"https://www.youtube.com/watch?v=a2\tNA\tChannel Two\n" +
		"https://www.youtube.com/watch?v=a3\t\tChannel Three\n" +
		"garbage line without tabs\n" +
		"https://www.youtube.com/watch?v=a4\tSecond Song\tNA\n"

	rs := parseYtdlpSearchOutput(stdout)
	if len(rs) != 2 {
		t.Fatalf("got %d results, want 2 (untitled and malformed lines skipped)", len(rs))
	}
	if rs[0].URL != "https://www.youtube.com/watch?v=a1" || rs[0].Title != "First Song" || rs[0].Uploader != "Channel One" {
		t.Errorf("first result = %+v", rs[0])
	}
	if rs[1].Title != "Second Song" || rs[1].Uploader != "NA" {
		t.Errorf("second result = %+v", rs[1])
	}

	if rs := parseYtdlpSearchOutput(""); len(rs) != 0 {
		t.Errorf("empty output should yield no results, got %d", len(rs))
	}
}

func TestResolveYtdlpExecutableStable(t *testing.T) {
	first := resolveYtdlpExecutable()
	if first == "" {
		t.Fatal("resolved path must never be empty")
	}
	if second := resolveYtdlpExecutable(); second != first {
		t.Errorf("resolution should be cached, got %q then %q", first, second)
	}
}
