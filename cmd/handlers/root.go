/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"boorusync/internal/config"
	"boorusync/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "boorusync",
		Short: "Boorusync mirrors posts between booru sites.",
		Long: `Boorusync crawls booru and gallery sites through an external
downloader, normalizes what it finds, and pushes posts, tags, and media
into a destination booru such as szurubooru.

Posts already present on the destination are merged rather than
re-uploaded, and tag categories survive the trip.`,
	}

	// Initialize configuration
	cobra.OnInitialize(initConfig)

	// Add persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.boorusync.yaml)")

	// Add subcommands
	rootCmd.AddCommand(NewSyncCmd())
	rootCmd.AddCommand(NewTagsCmd())
	rootCmd.AddCommand(NewPluginsCmd())
	rootCmd.AddCommand(NewHistoryCmd())
	rootCmd.AddCommand(NewCleanupCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	switch {
	case cfg.App.Debug:
		logger.SetLevel("debug")
	case cfg.Logging.Level != "":
		logger.SetLevel(cfg.Logging.Level)
	}

	// Show which config file is being used (if any)
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
	}
}
