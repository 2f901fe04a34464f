package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/lrstanley/go-ytdlp"
)

// ===========================
// yt-dlp
// ===========================

var (
	jsOnce       sync.Once
	cachedJSArgs []string

	ytdlpPathOnce sync.Once
	ytdlpPath     string
)

// resolveYtdlpExecutable locates the yt-dlp binary. It prefers a working
// install on PATH, then a copy sitting next to our own binary, and finally
// falls back to the bare name so exec surfaces the real error later.
func resolveYtdlpExecutable() string {
	ytdlpPathOnce.Do(func() {
		ytdlpPath = "yt-dlp"

		if path, err := exec.LookPath("yt-dlp"); err == nil {
			if exec.Command(path, "--version").Run() == nil {
				ytdlpPath = path
				LogYtdlp(MsgYtdlpResolvedVia, path)
				return
			}
		}

		if exePath, err := os.Executable(); err == nil {
			sibling := filepath.Join(filepath.Dir(exePath), "yt-dlp")
			if _, err := os.Stat(sibling); err == nil {
				ytdlpPath = sibling
				LogYtdlp(MsgYtdlpResolvedVia, sibling)
				return
			}
		}

		LogYtdlp(MsgYtdlpResolvedVia, ytdlpPath)
	})
	return ytdlpPath
}

// newYtdlp returns a new yt-dlp command with a modern user agent and reliable player client
func newYtdlp() (*ytdlp.Command, func()) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		SetExecutable(resolveYtdlpExecutable())

	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		cmd.Proxy(proxy)
	}

	return cmd, func() {}
}

// buildYtdlpArgs returns common args for yt-dlp commands
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "20",
		"--fragment-retries", "20",
	)
	return args
}

// ===========================
// Metadata resolution
// ===========================

type TrackInfo struct {
	URL        string
	Title      string
	Uploader   string
	ArtworkURL string
	DurationMs int64

	RequestedBy     snowflake.ID
	RequestedByName string
}

type ytdlpMetadata struct {
	Title      string          `json:"title"`
	Uploader   string          `json:"uploader"`
	WebpageURL string          `json:"webpage_url"`
	URL        string          `json:"url"`
	Thumbnail  string          `json:"thumbnail"`
	Duration   float64         `json:"duration"`
	Entries    []ytdlpMetadata `json:"entries"`
}

// isDirectQuery reports whether the query names a URL rather than search terms.
func isDirectQuery(query string) bool {
	return strings.Contains(query, "://")
}

func metadataToTrack(m *ytdlpMetadata) *TrackInfo {
	u := m.WebpageURL
	if u == "" {
		u = m.URL
	}
	return &TrackInfo{
		URL:        u,
		Title:      m.Title,
		Uploader:   m.Uploader,
		ArtworkURL: m.Thumbnail,
		DurationMs: int64(m.Duration * 1000),
	}
}

// resolveTrack resolves a URL or free-text query to track metadata. A nil
// result means nothing could be resolved; resolution failures are logged
// rather than returned so callers only branch on found/not found.
func resolveTrack(ctx context.Context, query string) *TrackInfo {
	target := query
	if !isDirectQuery(query) {
		target = "ytsearch1:" + query
	}
	target = strings.Replace(target, "music.youtube.com", "www.youtube.com", 1)

	cmd, cleanup := newYtdlp()
	defer cleanup()

	args := buildYtdlpArgs()
	res, err := cmd.
		DumpSingleJSON().
		IgnoreConfig().
		NoWarnings().
		Run(ctx, append(args, "--skip-download", target)...)

	if err != nil {
		LogYtdlp(MsgYtdlpResolveFail, err, res.Stderr, query)
		return nil
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		LogYtdlp(MsgYtdlpEmptyOutput, query)
		return nil
	}

	var meta ytdlpMetadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		LogYtdlp(MsgYtdlpParseFail, err)
		return nil
	}

	if len(meta.Entries) > 0 {
		return metadataToTrack(&meta.Entries[0])
	}
	if meta.Title == "" && meta.WebpageURL == "" && meta.URL == "" {
		LogYtdlp(MsgYtdlpNoEntries, query)
		return nil
	}
	return metadataToTrack(&meta)
}

// ===========================
// Autocomplete search
// ===========================

type ytdlpSearchResult struct {
	URL      string
	Title    string
	Uploader string
}

func ytdlpSearch(ctx context.Context, q string, m int) ([]ytdlpSearchResult, error) {
	cmd, cleanup := newYtdlp()
	defer cleanup()

	args := buildYtdlpArgs()
	res, err := cmd.
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s").
		PlaylistItems(fmt.Sprintf("1-%d", m)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, append(args, fmt.Sprintf("ytsearch%d:%s", m, q))...)

	if err != nil {
		return nil, err
	}
	return parseYtdlpSearchOutput(res.Stdout), nil
}

func parseYtdlpSearchOutput(stdout string) []ytdlpSearchResult {
	ls := strings.Split(strings.TrimSpace(stdout), "\n")
	rs := make([]ytdlpSearchResult, 0, len(ls))
	for _, l := range ls {
		ps := strings.Split(l, "\t")
		if len(ps) < 3 || ps[1] == "" || ps[1] == "NA" {
			continue
		}
		rs = append(rs, ytdlpSearchResult{URL: ps[0], Title: ps[1], Uploader: ps[2]})
	}
	return rs
}

// ===========================
// Streaming
// ===========================

// StreamHandle is a live audio byte stream from yt-dlp's stdout.
type StreamHandle struct {
	Reader io.ReadCloser
	cancel context.CancelFunc
	done   chan struct{}
}

// Close tears the subprocess down and waits for its exit to be reaped.
func (h *StreamHandle) Close() {
	h.cancel()
	_ = h.Reader.Close()
	<-h.done
}

// firstChunkReader logs once when the first bytes arrive from yt-dlp.
type firstChunkReader struct {
	io.ReadCloser
	url  string
	once sync.Once
}

func (r *firstChunkReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.once.Do(func() {
			LogYtdlp(MsgYtdlpStreamFirst, r.url)
		})
	}
	return n, err
}

// openStream launches yt-dlp and returns its stdout as a live byte stream.
// The stream is handed back as soon as the process starts; no read deadline
// is applied so slow extractors are given as long as they need.
func openStream(ctx context.Context, trackURL string) (*StreamHandle, error) {
	token, ok := potTokens.get(potScopeWeb)
	if ok {
		LogPot(MsgPotCacheHit, potScopeWeb)
	} else if GlobalConfig != nil {
		if fetched, got := fetchPoToken(ctx, GlobalConfig.PotProviderURL, ""); got {
			potTokens.set(potScopeWeb, fetched)
			token, ok = fetched, true
		}
	}

	u := strings.Replace(trackURL, "music.youtube.com", "www.youtube.com", 1)

	cmd, cleanup := newYtdlp()
	defer cleanup()

	args := buildYtdlpArgs()
	if ok {
		args = append(args, "--extractor-args", potExtractorArg(token))
	} else {
		LogYtdlp(MsgYtdlpNoToken)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	execCmd := cmd.
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		NoCheckCertificates().
		BuildCommand(streamCtx, append(args, u)...)

	execCmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		execCmd.Env = append(execCmd.Env, "http_proxy="+proxy, "https_proxy="+proxy, "all_proxy="+proxy)
	}
	execCmd.WaitDelay = 0

	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stderr, err := execCmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, err
	}

	if err := execCmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	LogYtdlp(MsgYtdlpStreamStart, u)

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				LogYtdlp(MsgYtdlpStderrLine, line)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := execCmd.Wait(); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "broken pipe") || strings.Contains(msg, "signal: killed") {
				LogYtdlp(MsgYtdlpStreamExitOK, u)
				return
			}
			LogYtdlp(MsgYtdlpStreamExit, err)
			return
		}
		LogYtdlp(MsgYtdlpStreamExitOK, u)
	}()

	return &StreamHandle{
		Reader: &firstChunkReader{ReadCloser: stdout, url: u},
		cancel: cancel,
		done:   done,
	}, nil
}
