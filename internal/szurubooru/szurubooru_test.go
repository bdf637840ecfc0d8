package szurubooru

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
	"boorusync/internal/session"
)

var (
	_ plugins.DestinationPlugin = (*Plugin)(nil)
	_ plugins.MetadataPlugin    = (*Plugin)(nil)
	_ plugins.APIPlugin         = (*Plugin)(nil)
	_ plugins.Configurable      = (*Plugin)(nil)
	_ plugins.ValidatorAware    = (*Plugin)(nil)
)

type loggedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]any
}

// requestLog records every request the fake destination receives so
// tests can assert on traffic shape, not just final state.
type requestLog struct {
	mu      sync.Mutex
	entries []loggedRequest
}

func (l *requestLog) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := loggedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(data))
			if len(data) > 0 && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
				_ = json.Unmarshal(data, &entry.Body)
			}
		}
		l.mu.Lock()
		l.entries = append(l.entries, entry)
		l.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (l *requestLog) matching(method, path string) []loggedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []loggedRequest
	for _, entry := range l.entries {
		if entry.Method == method && entry.Path == path {
			out = append(out, entry)
		}
	}
	return out
}

func (l *requestLog) count(method, path string) int {
	return len(l.matching(method, path))
}

func (l *requestLog) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// newTestPlugin wires a plugin against a fake destination with retry
// backoffs and settle pauses zeroed out.
func newTestPlugin(t *testing.T, handler http.Handler) (*Plugin, *requestLog) {
	t.Helper()

	log := &requestLog{}
	srv := httptest.NewServer(log.wrap(handler))
	t.Cleanup(srv.Close)

	sess, err := session.New(session.Options{RatePerMinute: 600000})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	t.Cleanup(sess.Close)

	p := New()
	p.Bind(sess)
	if err := p.Configure(map[string]any{
		"url_base": srv.URL,
		"username": "sync",
		"password": "hunter2",
	}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	p.client.retry = session.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	p.relocateDelay = 0
	p.shrinkDelay = 0
	p.integrityDelay = 0

	return p, log
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, name string) {
	t.Helper()
	writeJSON(t, w, status, map[string]string{"name": name, "description": name})
}

func bodyStrings(t *testing.T, body map[string]any, key string) []string {
	t.Helper()
	raw, ok := body[key].([]any)
	if !ok {
		t.Fatalf("body[%q] = %v, want a list", key, body[key])
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		value, ok := item.(string)
		if !ok {
			t.Fatalf("body[%q] holds %T, want strings", key, item)
		}
		out = append(out, value)
	}
	return out
}

func sameStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func sidecarFromJSON(t *testing.T, raw string) *resources.Metadata {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("failed to decode sample sidecar: %v", err)
	}
	return &resources.Metadata{Data: data, Path: "post.json"}
}

const szurubooruSidecar = `{
  "id": 1437,
  "version": 3,
  "creationTime": "2024-03-01T10:15:30.123456Z",
  "lastEditTime": "2024-04-02T08:00:00Z",
  "safety": "sketchy",
  "source": "https://e621.net/posts/4353804\nhttps://example.com/art/17",
  "checksum": "da39a3ee5e6b4b0d3255bfef95601890afd80709",
  "checksumMD5": "9e107d9d372bb6826bd81d3542a419d6",
  "score": 7,
  "tags": [
    {"names": ["dragon", "wyvern"], "category": "species", "usages": 12},
    {"names": ["ryuu"], "category": "artist"}
  ],
  "pools": [
    {"id": 4, "names": ["cave story"], "category": "default"}
  ]
}`

func TestParsePostSidecar(t *testing.T) {
	p := New()
	if err := p.Configure(map[string]any{"url_base": "https://booru.example"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	post, err := p.ParsePost(sidecarFromJSON(t, szurubooruSidecar))
	if err != nil {
		t.Fatalf("ParsePost() error = %v", err)
	}

	if post.ID != 1437 {
		t.Errorf("ID = %d, want 1437", post.ID)
	}
	if post.Origin != PluginName || post.Category != PluginName {
		t.Errorf("Origin = %q, Category = %q", post.Origin, post.Category)
	}
	if post.Safety != resources.SafetySketchy {
		t.Errorf("Safety = %s, want sketchy", post.Safety)
	}
	if post.SHA1 != "da39a3ee5e6b4b0d3255bfef95601890afd80709" {
		t.Errorf("SHA1 = %q", post.SHA1)
	}
	if post.MD5 != "9e107d9d372bb6826bd81d3542a419d6" {
		t.Errorf("MD5 = %q", post.MD5)
	}
	if post.Score != 7 {
		t.Errorf("Score = %d, want 7", post.Score)
	}
	if post.PostURL != "https://booru.example/post/1437" {
		t.Errorf("PostURL = %q", post.PostURL)
	}

	if !post.Sources.Contains("https://e621.net/posts/4353804") || post.Sources.Len() != 2 {
		t.Errorf("Sources = %v", post.Sources.Items())
	}

	if len(post.Tags) != 2 {
		t.Fatalf("got %d tags, want 2", len(post.Tags))
	}
	if post.Tags[0].Name() != "dragon" || post.Tags[0].Category != resources.TagCategorySpecies {
		t.Errorf("first tag = %+v", post.Tags[0])
	}
	if !post.Tags[0].HasName("wyvern") {
		t.Error("alias wyvern missing from first tag")
	}
	if post.Tags[1].Category != resources.TagCategoryArtist {
		t.Errorf("second tag category = %s", post.Tags[1].Category)
	}

	if len(post.Pools) != 1 || post.Pools[0].ID != 4 {
		t.Errorf("Pools = %+v", post.Pools)
	}

	if post.CreatedAt == nil || post.CreatedAt.Year() != 2024 || post.CreatedAt.Month() != time.March {
		t.Errorf("CreatedAt = %v", post.CreatedAt)
	}
	if version := post.ExtraFor(PluginName)["version"]; version != 3 {
		t.Errorf("scratch version = %v, want 3", version)
	}
}

func TestParsePostSidecarBareTagNames(t *testing.T) {
	p := New()
	post, err := p.ParsePost(sidecarFromJSON(t, `{"id": 9, "rating": "unsafe", "tags": ["solo", "night_sky"]}`))
	if err != nil {
		t.Fatalf("ParsePost() error = %v", err)
	}

	if post.Safety != resources.SafetyUnsafe {
		t.Errorf("Safety = %s, want unsafe from the rating field", post.Safety)
	}
	if len(post.Tags) != 2 || post.Tags[1].Name() != "night_sky" {
		t.Fatalf("Tags = %+v", post.Tags)
	}
	if post.Tags[0].Category != resources.TagCategoryGeneral {
		t.Errorf("bare tag category = %s, want general", post.Tags[0].Category)
	}
	if post.PostURL != "" {
		t.Errorf("PostURL = %q, want empty without a url_base", post.PostURL)
	}
}

func TestParsePostRequiresID(t *testing.T) {
	if _, err := New().ParsePost(sidecarFromJSON(t, `{"safety": "safe"}`)); err == nil {
		t.Fatal("ParsePost() accepted a sidecar without an id")
	}
}

func TestConfigureValidation(t *testing.T) {
	cases := []struct {
		name  string
		block map[string]any
	}{
		{"threshold too large", map[string]any{"image_distance_threshold": 1.5}},
		{"threshold zero", map[string]any{"image_distance_threshold": 0.0}},
		{"negative rate", map[string]any{"rate_limit_per_minute": -1}},
		{"zero name cap", map[string]any{"tag_name_cap": 0}},
		{"garbled rate", map[string]any{"rate_limit_per_minute": "fast"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := New().Configure(tc.block); err == nil {
				t.Errorf("Configure(%v) accepted an invalid value", tc.block)
			}
		})
	}
}

func TestConfigureDefaults(t *testing.T) {
	p := New()
	if err := p.Configure(map[string]any{}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	if p.threshold != defaultDistanceThreshold {
		t.Errorf("threshold = %v, want %v", p.threshold, defaultDistanceThreshold)
	}
	if p.tagNameCap != defaultTagNameCap {
		t.Errorf("tagNameCap = %d, want %d", p.tagNameCap, defaultTagNameCap)
	}
	if p.ratePerMinute != defaultRatePerMinute {
		t.Errorf("ratePerMinute = %d, want %d", p.ratePerMinute, defaultRatePerMinute)
	}
}

func TestAttributesIncludeConfiguredHost(t *testing.T) {
	p := New()
	if domains := p.Attributes().Domains; len(domains) != 0 {
		t.Fatalf("Domains = %v before configuration, want none", domains)
	}

	if err := p.Configure(map[string]any{"url_base": "https://booru.example:8080"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	attrs := p.Attributes()
	if attrs.Name != PluginName {
		t.Errorf("Name = %q", attrs.Name)
	}
	if len(attrs.Domains) != 1 || attrs.Domains[0] != "booru.example:8080" {
		t.Errorf("Domains = %v", attrs.Domains)
	}
}

func TestPushPoolNotSupported(t *testing.T) {
	p, _ := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))

	_, err := p.PushPool(context.Background(), &resources.Pool{ID: 1}, false)
	if !errors.Is(err, plugins.ErrNotSupported) {
		t.Fatalf("PushPool() error = %v, want ErrNotSupported", err)
	}
}

func TestUnconfiguredPluginRefusesPushes(t *testing.T) {
	p := New()
	if _, err := p.PushPost(context.Background(), resources.NewPost(), false); err == nil {
		t.Error("PushPost() succeeded without a configured destination")
	}
	if _, err := p.PushTag(context.Background(), resources.NewTag([]string{"a"}, ""), false, false); err == nil {
		t.Error("PushTag() succeeded without a configured destination")
	}
}
