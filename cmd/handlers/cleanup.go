package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"boorusync/internal/logger"
	"boorusync/internal/pipeline"
)

// NewCleanupCmd creates the cleanup command group
func NewCleanupCmd() *cobra.Command {
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Housekeeping passes over the destination booru",
		Long:  `Maintenance operations on posts the destination already holds.`,
	}

	cleanupCmd.AddCommand(newCleanupMetadataCmd())
	return cleanupCmd
}

func newCleanupMetadataCmd() *cobra.Command {
	metadataCmd := &cobra.Command{
		Use:   "metadata [urls...]",
		Short: "Re-push source metadata for already imported posts",
		Long: `Crawl the given source URLs again and force-push every post into the
destination, refreshing tags, sources, and safety on posts that drifted
since their import. No filtering is applied and no history is recorded.

Examples:
  # Refresh every post of a search page
  boorusync cleanup metadata "https://e621.net/posts?tags=dragon"

  # Refresh the URLs listed in a file
  boorusync cleanup metadata --file urls.txt`,
		Run: func(cmd *cobra.Command, args []string) {
			urlsFile, _ := cmd.Flags().GetString("file")
			importSite, _ := cmd.Flags().GetString("import-site")
			overrides, _ := cmd.Flags().GetStringArray("plugin-config")
			if err := runCleanupMetadata(args, urlsFile, importSite, overrides); err != nil {
				logger.Error("Metadata cleanup failed", err)
				os.Exit(1)
			}
		},
	}

	metadataCmd.Flags().StringP("file", "f", "", "File listing source URLs, one per line")
	metadataCmd.Flags().String("import-site", "", "Site name whose search page to refresh")
	metadataCmd.Flags().StringArray("plugin-config", nil, "Plugin override as plugin:key=value,key=value (repeatable)")
	return metadataCmd
}

func runCleanupMetadata(args []string, urlsFile, importSite string, overrides []string) error {
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

	p := pipeline.New(pipeline.Options{
		Registry:    kit.registry,
		Destination: dest,
		Downloads:   kit.downloads(),
		Sync:        kit.cfg.Sync,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.RefreshMetadata(ctx, urls); err != nil {
		return err
	}

	fmt.Println("✅ Metadata refresh complete")
	return nil
}
