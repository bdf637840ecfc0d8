// Package download drives the external gallery-dl tool in two passes:
// a metadata-only discovery pass that walks a site URL page by page, and
// a media pass that fetches the files the pipeline decided it wants.
// The tool's exit code is never consulted; the scratch folder rescan is
// the source of truth for what a run produced.
package download

import (
	"context"
	"path/filepath"
	"strings"

	"boorusync/internal/logger"
	"boorusync/internal/resources"
)

// Item is one discovered post: a metadata sidecar on disk plus the
// pipeline's verdict on it. Resource is nil until the pipeline parses
// the sidecar.
type Item struct {
	MetadataPath         string
	MediaPath            string
	MediaDownloadDesired bool
	Ignore               bool
	Resource             *resources.Post
}

// url returns the address the item's media would be fetched from.
func (it *Item) url() string {
	if it.Resource == nil {
		return ""
	}
	return it.Resource.PostURL
}

// Job is one discovery page: the scratch folder it was written to and
// the items found by rescanning that folder.
type Job struct {
	Folder string
	Items  []*Item

	run *Run
}

// Cleanup deletes the job's scratch folder, sidecars and media included.
// Call it once the page's items have been pushed; the posts keep no live
// references into the folder afterwards.
func (j *Job) Cleanup() {
	j.run.manager.removeFolder(j.Folder)
}

// pending returns the items the pipeline flagged for a media download,
// pruning the ones the extension ignore list or the session's seen-URL
// set rules out. Pruned items have MediaDownloadDesired cleared so later
// stages treat them as metadata-only.
func (j *Job) pending() []*Item {
	var out []*Item
	batch := map[string]struct{}{}
	for _, item := range j.Items {
		if !item.MediaDownloadDesired || item.Ignore {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(mediaPathFor(item.MetadataPath)), ".")
		if j.run.manager.ignored(ext) {
			logger.Debug("skipping media with ignored extension", "sidecar", item.MetadataPath, "extension", ext)
			item.MediaDownloadDesired = false
			continue
		}
		address := item.url()
		if address == "" {
			logger.Warn("item has no URL to download from", "sidecar", item.MetadataPath)
			continue
		}
		if j.run.manager.alreadySeen(address) {
			logger.Debug("media already fetched earlier this session", "url", address)
			item.MediaDownloadDesired = false
			continue
		}
		if _, dup := batch[address]; dup {
			item.MediaDownloadDesired = false
			continue
		}
		batch[address] = struct{}{}
		out = append(out, item)
	}
	return out
}

// DownloadMedia fetches media for every flagged item in one tool run,
// then re-checks the scratch folder: items whose media file landed next
// to their sidecar get MediaPath and Resource.LocalFile filled in.
func (j *Job) DownloadMedia(ctx context.Context) error {
	items := j.pending()
	if len(items) == 0 {
		logger.Debug("no media downloads pending", "folder", j.Folder)
		return nil
	}

	args := append([]string(nil), j.run.manager.extra...)
	args = append(args, "-D="+j.Folder)
	for _, item := range items {
		args = append(args, j.run.prefix(item.url()))
	}
	if err := j.run.manager.runTool(ctx, args); err != nil {
		return err
	}

	for _, item := range items {
		path := mediaPathFor(item.MetadataPath)
		if !fileExists(path) {
			logger.Warn("media file missing after download", "expected", path)
			continue
		}
		item.MediaPath = path
		if item.Resource != nil {
			item.Resource.LocalFile = path
		}
	}
	return nil
}

// mediaPathFor strips the sidecar suffix: gallery-dl writes metadata as
// <media file>.json alongside the media file itself.
func mediaPathFor(sidecar string) string {
	return strings.TrimSuffix(sidecar, ".json")
}
