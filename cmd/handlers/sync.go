package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"boorusync/internal/config"
	"boorusync/internal/download"
	"boorusync/internal/logger"
	"boorusync/internal/pipeline"
	"boorusync/internal/plugins"
	"boorusync/internal/session"
	"boorusync/internal/sites"
	"boorusync/internal/store"
	"boorusync/internal/szurubooru"
)

// NewSyncCmd creates the sync command
func NewSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync [urls...]",
		Short: "Import posts from source URLs into the destination booru",
		Long: `Crawl each source URL page by page, filter the posts against the
configured tag, safety, and score rules, and push the survivors into the
destination. Posts the destination already holds are merged instead of
re-uploaded.

Examples:
  # Sync a search page
  boorusync sync "https://e621.net/posts?tags=dragon"

  # Sync every URL listed in a file (one per line, # comments allowed)
  boorusync sync --file urls.txt

  # Sync a site's default search page
  boorusync sync --import-site e621

  # Override plugin options for this run
  boorusync sync --plugin-config "szurubooru:url_base=http://localhost:8080" ...`,
		Run: func(cmd *cobra.Command, args []string) {
			urlsFile, _ := cmd.Flags().GetString("file")
			importSite, _ := cmd.Flags().GetString("import-site")
			overrides, _ := cmd.Flags().GetStringArray("plugin-config")
			if err := runSync(args, urlsFile, importSite, overrides); err != nil {
				logger.Error("Sync failed", err)
				os.Exit(1)
			}
		},
	}

	syncCmd.Flags().StringP("file", "f", "", "File listing source URLs, one per line")
	syncCmd.Flags().String("import-site", "", "Site name whose search page to import")
	syncCmd.Flags().StringArray("plugin-config", nil, "Plugin override as plugin:key=value,key=value (repeatable)")
	return syncCmd
}

func runSync(args []string, urlsFile, importSite string, overrides []string) error {
	kit, err := newToolkit(overrides)
	if err != nil {
		return err
	}
	defer kit.Close()

	urls, err := collectURLs(args, urlsFile, importSite, kit.registry)
	if err != nil {
		return err
	}

	dest, err := kit.destination()
	if err != nil {
		return err
	}

	var history *store.Store
	if kit.cfg.History.Enabled {
		history, err = store.NewStore(kit.cfg.History.Directory)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer closeHistory(history)
	}

	p := pipeline.New(pipeline.Options{
		Registry:    kit.registry,
		Destination: dest,
		Downloads:   kit.downloads(),
		History:     history,
		Sync:        kit.cfg.Sync,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx, urls); err != nil {
		return err
	}

	counts := p.Counts()
	fmt.Printf("✅ Sync complete: %d created, %d updated, %d skipped, %d failed\n",
		counts.Created, counts.Updated, counts.Skipped, counts.Failed)
	return nil
}

// toolkit bundles the collaborators the long-running commands share: the
// loaded config, the shared HTTP session, and the plugin registry with
// every adapter registered.
type toolkit struct {
	cfg      *config.Config
	sess     *session.Session
	registry *plugins.Registry
}

func newToolkit(overrides []string) (*toolkit, error) {
	cfg := config.Get()
	for _, spec := range overrides {
		if err := cfg.ApplyOverride(spec); err != nil {
			return nil, err
		}
	}

	sess, err := session.New(session.Options{
		LimitPerHost: cfg.HTTP.LimitPerHost,
		Timeout:      cfg.HTTPTimeout(),
		CookiesFile:  cfg.HTTP.CookiesFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build http session: %w", err)
	}

	registry := plugins.NewRegistry(sess, cfg.PluginBlocks())
	sites.RegisterAll(registry)
	registry.Register(szurubooru.New())

	return &toolkit{cfg: cfg, sess: sess, registry: registry}, nil
}

func (k *toolkit) Close() {
	k.sess.Close()
}

// destination resolves the configured destination plugin.
func (k *toolkit) destination() (plugins.DestinationPlugin, error) {
	dest, err := k.registry.FindDestination(plugins.Query{Name: k.cfg.Sync.Destination})
	if err != nil {
		return nil, fmt.Errorf("failed to select destination %q: %w", k.cfg.Sync.Destination, err)
	}
	return dest, nil
}

// downloads builds the downloader manager from the loaded config.
func (k *toolkit) downloads() *download.Manager {
	return download.NewManager(download.Options{
		Tool:              k.cfg.Downloader.Tool,
		TempDir:           k.cfg.App.TempDir,
		CookiesFile:       k.cfg.HTTP.CookiesFile,
		PageSize:          k.cfg.Sync.DownloadPageSize,
		AllowedBlankPages: k.cfg.Sync.AllowedBlankPages,
		IgnoredExtensions: k.cfg.Downloader.IgnoredExtensions,
	})
}

// collectURLs merges the positional URLs, the url file, and the import
// site's search page into one list.
func collectURLs(args []string, urlsFile, importSite string, registry *plugins.Registry) ([]string, error) {
	urls := append([]string(nil), args...)

	if urlsFile != "" {
		data, err := os.ReadFile(urlsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read url file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
	}

	if importSite != "" {
		p, err := registry.Find(plugins.Query{Name: importSite})
		if err != nil {
			return nil, fmt.Errorf("unknown import site %q: %w", importSite, err)
		}
		searchable, ok := p.(plugins.Searchable)
		if !ok {
			return nil, fmt.Errorf("site %q has no search page to import from", importSite)
		}
		urls = append(urls, searchable.SearchURL())
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("nothing to sync: pass urls, --file, or --import-site")
	}
	return urls, nil
}
