package handlers

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"boorusync/internal/plugins"
	"boorusync/internal/sites"
	"boorusync/internal/szurubooru"
	"boorusync/internal/tui"
)

// NewPluginsCmd creates the plugins command group
func NewPluginsCmd() *cobra.Command {
	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the registered site adapters",
		Long:  `List or browse the plugins boorusync can source posts from and push posts to.`,
	}

	pluginsCmd.AddCommand(newPluginsListCmd())
	pluginsCmd.AddCommand(newPluginsBrowseCmd())
	return pluginsCmd
}

func newPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered plugin",
		Run: func(cmd *cobra.Command, args []string) {
			runPluginsList()
		},
	}
}

func newPluginsBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse plugins in an interactive terminal UI",
		Run: func(cmd *cobra.Command, args []string) {
			tui.StartTUI(staticRegistry())
		},
	}
}

func runPluginsList() {
	registry := staticRegistry()
	all := registry.All()

	fmt.Println("📦 Registered Plugins")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tROLES\tDOMAINS\n")
	fmt.Fprintf(w, "━━━━━━━━━━\t━━━━━━━━━━━━━━━━━━━━\t━━━━━━━━━━━━━━━━━━━━\n")

	var sources, destinations, validators int
	for _, p := range all {
		attrs := p.Attributes()

		var roles []string
		if _, ok := p.(plugins.MetadataPlugin); ok {
			roles = append(roles, "source")
			sources++
		}
		if _, ok := p.(plugins.DestinationPlugin); ok {
			roles = append(roles, "destination")
			destinations++
		}
		if _, ok := p.(plugins.ValidationPlugin); ok {
			roles = append(roles, "validator")
			validators++
		}
		if _, ok := p.(plugins.TagExporter); ok {
			roles = append(roles, "tag-export")
		}
		if _, ok := p.(plugins.Searchable); ok {
			roles = append(roles, "searchable")
		}

		domains := strings.Join(attrs.Domains, ", ")
		if domains == "" {
			domains = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", attrs.Name, strings.Join(roles, ", "), domains)
	}
	w.Flush()

	fmt.Printf("\nTotal plugins: %d (%d sources, %d destinations, %d validators)\n",
		len(all), sources, destinations, validators)
}

// staticRegistry builds a registry without a live session. Listing and
// browsing only read plugin attributes, so nothing triggers the lazy
// initialization that needs one.
func staticRegistry() *plugins.Registry {
	registry := plugins.NewRegistry(nil, nil)
	sites.RegisterAll(registry)
	registry.Register(szurubooru.New())
	return registry
}
