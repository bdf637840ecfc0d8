package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"boorusync/internal/logger"
)

// Options configures a Manager.
type Options struct {
	Tool              string // Downloader binary (default gallery-dl)
	TempDir           string // Parent of the per-page scratch folders (default tmp)
	CookiesFile       string // Optional cookies file handed to the tool
	PageSize          int    // Posts requested per discovery range (default 50)
	AllowedBlankPages int    // Consecutive blank pages before a crawl stops (0 acts as 1)
	IgnoredExtensions []string
}

// Manager owns what all crawls of one sync session share: the seen-URL
// set that decides page blankness, the scratch folders on disk, and the
// tool invocation. Create one Run per site URL with Start.
type Manager struct {
	opts        Options
	extra       []string
	blankLimit  int
	ignoredExts map[string]struct{}

	mu      sync.Mutex
	seen    map[string]struct{}
	folders []string
}

// NewManager normalizes opts and returns a Manager. The cookies file is
// probed once here; a missing file drops the flag rather than making
// every tool run fail.
func NewManager(opts Options) *Manager {
	if opts.Tool == "" {
		opts.Tool = "gallery-dl"
	}
	if opts.TempDir == "" {
		opts.TempDir = "tmp"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	blankLimit := opts.AllowedBlankPages
	if blankLimit < 1 {
		blankLimit = 1
	}

	ignoredExts := make(map[string]struct{}, len(opts.IgnoredExtensions))
	for _, ext := range opts.IgnoredExtensions {
		ignoredExts[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	m := &Manager{
		opts:        opts,
		blankLimit:  blankLimit,
		ignoredExts: ignoredExts,
		seen:        map[string]struct{}{},
	}
	if opts.CookiesFile != "" {
		if _, err := os.Stat(opts.CookiesFile); err == nil {
			m.extra = append(m.extra, "--cookies="+opts.CookiesFile)
		} else {
			logger.Debug("cookies file not found, downloader runs without it", "path", opts.CookiesFile)
		}
	}
	return m
}

// Start begins a paged crawl of target. A non-empty extractor is
// prefixed onto every URL handed to the tool, steering which of the
// tool's extractors handles the site.
func (m *Manager) Start(target, extractor string) *Run {
	return &Run{
		manager:   m,
		target:    target,
		extractor: extractor,
		max:       m.opts.PageSize,
	}
}

// CleanupFolders removes every scratch folder created so far.
func (m *Manager) CleanupFolders() {
	m.mu.Lock()
	folders := m.folders
	m.folders = nil
	m.mu.Unlock()

	for _, folder := range folders {
		deleteFolder(folder)
	}
}

// removeFolder deletes one tracked scratch folder and forgets it, so a
// later CleanupFolders does not try again.
func (m *Manager) removeFolder(folder string) {
	m.mu.Lock()
	for i, tracked := range m.folders {
		if tracked == folder {
			m.folders = append(m.folders[:i], m.folders[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	deleteFolder(folder)
}

func deleteFolder(folder string) {
	if err := os.RemoveAll(folder); err != nil {
		logger.Error("removing scratch folder", err, "folder", folder)
		return
	}
	logger.Debug("removed scratch folder", "folder", folder)
}

func (m *Manager) ignored(ext string) bool {
	_, ok := m.ignoredExts[strings.ToLower(ext)]
	return ok
}

func (m *Manager) alreadySeen(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[address]
	return ok
}

// observe records a page's URLs in the seen set and reports how many of
// them were new.
func (m *Manager) observe(addresses []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := 0
	for _, address := range addresses {
		if _, ok := m.seen[address]; ok {
			continue
		}
		m.seen[address] = struct{}{}
		fresh++
	}
	return fresh
}

func (m *Manager) scratchFolder() (string, error) {
	name := fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.NewString()[:8])
	folder := filepath.Join(m.opts.TempDir, name)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch folder: %w", err)
	}
	m.mu.Lock()
	m.folders = append(m.folders, folder)
	m.mu.Unlock()
	return folder, nil
}

// runTool executes the downloader and waits for it. Nonzero exits are
// logged and swallowed, the caller's folder rescan decides what actually
// arrived. Failing to launch the tool at all is still an error.
func (m *Manager) runTool(ctx context.Context, args []string) error {
	logger.Debug("running downloader", "tool", m.opts.Tool, "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, m.opts.Tool, args...)
	// Child processes of the tool can inherit its output pipes; do not
	// wait on them forever once the tool itself is gone.
	cmd.WaitDelay = 10 * time.Second
	out, err := cmd.CombinedOutput()
	if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
		logger.Debug("downloader output", "tool", m.opts.Tool, "output", trimmed)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		logger.Warn("downloader exited with an error", "tool", m.opts.Tool, "code", exit.ExitCode())
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		logger.Warn("downloader output pipe abandoned", "tool", m.opts.Tool)
		return nil
	}
	return fmt.Errorf("running %s: %w", m.opts.Tool, err)
}

// Run is one crawl: a cursor over discovery ranges of a single URL.
type Run struct {
	manager   *Manager
	target    string
	extractor string

	min    int
	max    int
	blanks int
	prev   *Job
	done   bool
}

func (r *Run) prefix(address string) string {
	if r.extractor == "" {
		return address
	}
	return r.extractor + ":" + address
}

// NextPage fetches the next discovery range and returns its job, or
// (nil, nil) once the crawl is exhausted. The blank-page decision for
// the previous job is made here, after the caller had a chance to parse
// its sidecars and attach resources: a page whose URLs were all seen
// earlier in the session counts as blank, and the crawl stops after the
// allowed number of consecutive blank pages or on the first page with
// no sidecars at all.
func (r *Run) NextPage(ctx context.Context) (*Job, error) {
	if r.done {
		return nil, nil
	}
	if r.prev != nil {
		r.settle()
		if r.blanks >= r.manager.blankLimit {
			r.done = true
			logger.Info("stopping crawl after blank pages", "url", r.target, "pages", r.blanks)
			return nil, nil
		}
	}

	folder, err := r.manager.scratchFolder()
	if err != nil {
		return nil, err
	}
	args := []string{
		"--write-metadata",
		"--no-download",
		"-D=" + folder,
		fmt.Sprintf("--range=%d-%d", r.min, r.max),
	}
	args = append(args, r.manager.extra...)
	args = append(args, r.prefix(r.target))
	if err := r.manager.runTool(ctx, args); err != nil {
		return nil, err
	}

	sidecars, err := scanSidecars(folder)
	if err != nil {
		return nil, err
	}
	if len(sidecars) == 0 {
		r.done = true
		logger.Info("no further items reported", "url", r.target, "from", r.min)
		return nil, nil
	}

	job := &Job{Folder: folder, run: r}
	for _, sidecar := range sidecars {
		job.Items = append(job.Items, &Item{MetadataPath: sidecar})
	}
	r.prev = job
	r.min = r.max + 1
	r.max += r.manager.opts.PageSize
	logger.Info("discovered page", "url", r.target, "items", len(job.Items))
	return job, nil
}

// settle scores the previous job against the session's seen set.
func (r *Run) settle() {
	var addresses []string
	for _, item := range r.prev.Items {
		if address := item.url(); address != "" {
			addresses = append(addresses, address)
		}
	}
	if fresh := r.manager.observe(addresses); fresh == 0 {
		r.blanks++
		logger.Info("page contributed no new items", "url", r.target, "consecutive", r.blanks)
	} else {
		r.blanks = 0
	}
	r.prev = nil
}

func scanSidecars(folder string) ([]string, error) {
	var sidecars []string
	err := filepath.WalkDir(folder, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			sidecars = append(sidecars, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", folder, err)
	}
	return sidecars, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
