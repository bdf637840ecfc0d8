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
	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

// NewTagsCmd creates the tags command group
func NewTagsCmd() *cobra.Command {
	tagsCmd := &cobra.Command{
		Use:   "tags",
		Short: "Manage the destination's tag corpus",
		Long:  `Bulk operations on destination tags, independent of any post sync.`,
	}

	tagsCmd.AddCommand(newTagsImportCmd())
	return tagsCmd
}

func newTagsImportCmd() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import whole tag corpora from sites into the destination",
		Long: `Export every tag a site publishes, including aliases and implications,
merge duplicates across sites, and push the result into the destination
in waves. Only sites with a bulk tag export are supported.

Examples:
  # Import the full e621 tag corpus
  boorusync tags import --site e621

  # Merge corpora from several sites before pushing
  boorusync tags import --site e621 --site e926

  # Record aliases as implications instead of extra tag names
  boorusync tags import --site e621 --aliases-as-implications`,
		Run: func(cmd *cobra.Command, args []string) {
			siteNames, _ := cmd.Flags().GetStringArray("site")
			aliasesAsImplications, _ := cmd.Flags().GetBool("aliases-as-implications")
			overrides, _ := cmd.Flags().GetStringArray("plugin-config")
			if err := runTagsImport(siteNames, aliasesAsImplications, overrides); err != nil {
				logger.Error("Tag import failed", err)
				os.Exit(1)
			}
		},
	}

	importCmd.Flags().StringArray("site", nil, "Site name or domain to export tags from (repeatable)")
	importCmd.Flags().Bool("aliases-as-implications", false, "Record aliases as implications instead of extra names")
	importCmd.Flags().StringArray("plugin-config", nil, "Plugin override as plugin:key=value,key=value (repeatable)")
	return importCmd
}

func runTagsImport(siteNames []string, aliasesAsImplications bool, overrides []string) error {
	if len(siteNames) == 0 {
		return fmt.Errorf("nothing to import: pass --site at least once")
	}

	kit, err := newToolkit(overrides)
	if err != nil {
		return err
	}
	defer kit.Close()

	dest, err := kit.destination()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var corpus []*resources.Tag
	for _, name := range siteNames {
		p, err := kit.registry.Find(plugins.Query{Name: name, Domain: name, Category: name})
		if err != nil {
			return fmt.Errorf("unknown site %q: %w", name, err)
		}
		exporter, ok := p.(plugins.TagExporter)
		if !ok {
			return fmt.Errorf("site %q has no bulk tag export", name)
		}

		logger.Info("exporting tag corpus", "site", p.Attributes().Name)
		tags, err := exporter.AllTags(ctx, aliasesAsImplications)
		if err != nil {
			return fmt.Errorf("failed to export tags from %q: %w", name, err)
		}
		corpus = append(corpus, tags...)
	}

	pushed, err := pipeline.PushTagCorpus(ctx, dest, corpus)
	if err != nil {
		return fmt.Errorf("failed to push tags: %w", err)
	}

	fmt.Printf("✅ Tag import complete: %d tags pushed\n", pushed)
	return nil
}
