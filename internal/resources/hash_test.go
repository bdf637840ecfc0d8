package resources

import (
	"os"
	"path/filepath"
	"testing"
)

const (
	helloMD5  = "5d41402abc4b2a76b9719d911017c592"
	helloSHA1 = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "media.png")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestFileDigests(t *testing.T) {
	path := writeTempFile(t, "hello")

	md5sum, err := FileMD5(path)
	if err != nil {
		t.Fatalf("FileMD5 failed: %v", err)
	}
	if md5sum != helloMD5 {
		t.Errorf("FileMD5 = %q, want %q", md5sum, helloMD5)
	}

	sha1sum, err := FileSHA1(path)
	if err != nil {
		t.Fatalf("FileSHA1 failed: %v", err)
	}
	if sha1sum != helloSHA1 {
		t.Errorf("FileSHA1 = %q, want %q", sha1sum, helloSHA1)
	}
}

func TestRefreshHashesComputedValueWins(t *testing.T) {
	post := NewPost()
	post.LocalFile = writeTempFile(t, "hello")
	post.MD5 = "00000000000000000000000000000000"

	if err := post.RefreshHashes(); err != nil {
		t.Fatalf("RefreshHashes failed: %v", err)
	}
	if post.MD5 != helloMD5 {
		t.Errorf("md5 after refresh = %q, want computed %q", post.MD5, helloMD5)
	}
	if post.SHA1 != helloSHA1 {
		t.Errorf("sha1 after refresh = %q, want computed %q", post.SHA1, helloSHA1)
	}
}

func TestRefreshHashesWithoutLocalFileIsNoop(t *testing.T) {
	post := NewPost()
	post.MD5 = "0123456789abcdef0123456789abcdef"
	if err := post.RefreshHashes(); err != nil {
		t.Fatalf("RefreshHashes failed: %v", err)
	}
	if post.MD5 != "0123456789abcdef0123456789abcdef" {
		t.Error("md5 changed without a local file")
	}
}

func TestHashValidators(t *testing.T) {
	if !ValidMD5(helloMD5) || ValidMD5("XYZ") || ValidMD5(helloSHA1) {
		t.Error("ValidMD5 misclassified input")
	}
	if !ValidSHA1(helloSHA1) || ValidSHA1(helloMD5) {
		t.Error("ValidSHA1 misclassified input")
	}
}

func TestMetadataAccessors(t *testing.T) {
	meta := &Metadata{
		Path: "/tmp/scratch/e621/123.png.json",
		Data: map[string]any{
			"id":    float64(123),
			"score": map[string]any{"total": float64(42)},
			"file":  map[string]any{"md5": "0123456789abcdef0123456789abcdef"},
			"tags":  []any{"cat", "dog"},
			"flags": map[string]any{"deleted": true},
		},
	}

	if id, ok := meta.Int("id"); !ok || id != 123 {
		t.Errorf("Int(id) = %d, %v", id, ok)
	}
	if total, ok := meta.Int("score", "total"); !ok || total != 42 {
		t.Errorf("Int(score.total) = %d, %v", total, ok)
	}
	if md5sum, ok := meta.String("file", "md5"); !ok || md5sum == "" {
		t.Errorf("String(file.md5) = %q, %v", md5sum, ok)
	}
	if tags, ok := meta.StringSlice("tags"); !ok || len(tags) != 2 {
		t.Errorf("StringSlice(tags) = %v, %v", tags, ok)
	}
	if deleted, ok := meta.Bool("flags", "deleted"); !ok || !deleted {
		t.Errorf("Bool(flags.deleted) = %v, %v", deleted, ok)
	}
	if _, ok := meta.String("missing"); ok {
		t.Error("lookup of missing key succeeded")
	}
	if meta.MediaPath() != "/tmp/scratch/e621/123.png" {
		t.Errorf("MediaPath = %q", meta.MediaPath())
	}
}
