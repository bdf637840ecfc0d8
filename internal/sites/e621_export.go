package sites

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/klauspost/compress/gzip"

	"boorusync/internal/logger"
	"boorusync/internal/resources"
)

const exportSuffix = ".csv.gz"

// AllTags builds the full e621 tag corpus from the site's database
// exports: the tags archive seeds the set, the aliases archive folds
// alternate names in, and the implications archive links tags to the
// tags they imply. Tags below the configured post-count threshold and
// tags in the invalid category are dropped.
func (p *E621) AllTags(ctx context.Context, aliasesAsImplications bool) ([]*resources.Tag, error) {
	links, err := p.exportLinks(ctx)
	if err != nil {
		return nil, err
	}

	tagsArchive, err := p.downloadExport(ctx, links, "tags-")
	if err != nil {
		return nil, err
	}
	aliasesArchive, err := p.downloadExport(ctx, links, "tag_aliases-")
	if err != nil {
		return nil, err
	}
	implicationsArchive, err := p.downloadExport(ctx, links, "tag_implications-")
	if err != nil {
		return nil, err
	}

	tags := map[string]*resources.Tag{}

	logger.Info("processing tags export", "file", filepath.Base(tagsArchive))
	err = forEachExportRow(tagsArchive, func(row map[string]string) error {
		name := row["name"]
		postCount, _ := strconv.Atoi(row["post_count"])
		if postCount < p.threshold {
			return nil
		}
		category, ok := e621CategoryCodes[row["category"]]
		if !ok {
			category = resources.TagCategoryGeneral
		}
		if category == resources.TagCategoryInvalid {
			return nil
		}
		tags[name] = resources.NewTag([]string{name}, category)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("processing tag aliases export", "file", filepath.Base(aliasesArchive))
	err = forEachExportRow(aliasesArchive, func(row map[string]string) error {
		if row["status"] != "active" {
			return nil
		}
		name := row["consequent_name"]
		alias := row["antecedent_name"]
		if aliasesAsImplications {
			addImplication(tags, name, alias)
			return nil
		}
		if tag, ok := tags[name]; ok && !tag.HasName(alias) {
			tag.Names = append(tag.Names, alias)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("processing tag implications export", "file", filepath.Base(implicationsArchive))
	err = forEachExportRow(implicationsArchive, func(row map[string]string) error {
		if row["status"] != "active" {
			return nil
		}
		addImplication(tags, row["antecedent_name"], row["consequent_name"])
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]*resources.Tag, 0, len(names))
	for _, name := range names {
		result = append(result, tags[name])
	}
	return result, nil
}

// addImplication links tags[name] to the tag it implies. Implications
// that duplicate one of the tag's own names are skipped, as are links
// where either side is not in the set.
func addImplication(tags map[string]*resources.Tag, name, implication string) {
	tag, ok := tags[name]
	if !ok {
		logger.Debug("skipping implication, tag not in set", "tag", name, "implication", implication)
		return
	}
	if tag.HasName(implication) {
		logger.Warn("skipping implication already covered by tag names", "tag", name, "implication", implication)
		return
	}
	implied, ok := tags[implication]
	if !ok {
		logger.Debug("skipping implication, implied tag not in set", "tag", name, "implication", implication)
		return
	}
	tag.Implications = append(tag.Implications, implied)
}

// exportLinks scrapes the database export listing for archive links,
// newest first.
func (p *E621) exportLinks(ctx context.Context) ([]string, error) {
	base := p.urlBase + "/db_export/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.session.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list database exports: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("database export listing returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database export listing: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if strings.HasSuffix(href, exportSuffix) {
			links = append(links, base+href)
		}
	})
	sort.Slice(links, func(i, j int) bool {
		return path.Base(links[i]) > path.Base(links[j])
	})
	return links, nil
}

// downloadExport fetches the newest archive whose filename contains
// prefix into the adapter's scratch directory.
func (p *E621) downloadExport(ctx context.Context, links []string, prefix string) (string, error) {
	for _, link := range links {
		filename := path.Base(link)
		if !strings.Contains(filename, prefix) {
			continue
		}

		if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create export directory: %w", err)
		}
		local := filepath.Join(p.tempDir, filename)
		file, err := os.Create(local)
		if err != nil {
			return "", fmt.Errorf("failed to create export file: %w", err)
		}
		downloadErr := p.session.Download(ctx, link, file)
		if closeErr := file.Close(); downloadErr == nil {
			downloadErr = closeErr
		}
		if downloadErr != nil {
			return "", fmt.Errorf("failed to download export %s: %w", filename, downloadErr)
		}

		logger.Debug("downloaded database export", "file", filename)
		return local, nil
	}
	return "", fmt.Errorf("no %q database export in listing", prefix)
}

// forEachExportRow streams a gzipped CSV archive, calling fn with each
// row keyed by the header columns.
func forEachExportRow(archive string, fn func(row map[string]string) error) error {
	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open export %s: %w", filepath.Base(archive), err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to decompress export %s: %w", filepath.Base(archive), err)
	}
	defer gz.Close()

	reader := csv.NewReader(gz)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read export header %s: %w", filepath.Base(archive), err)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to parse export %s: %w", filepath.Base(archive), err)
		}
		row := make(map[string]string, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = record[i]
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}
