// Package main provides the entry point for the dropscout CLI application.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/dropscout/internal/cache"
	"github.com/dgnsrekt/dropscout/internal/kvstore"
)

const appName = "dropscout"

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   appName,
		Short: "Cache product research lookups, in memory and on disk",
		Long: paragraph(
			fmt.Sprintf("\nInspect, edit and serve the %s that sits in front of product search, detail, category and review lookups.", keyword("dropscout cache")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("config") {
				viper.SetConfigFile(configFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("unable to read config file: %w", err)
				}
			}
			return applyLogLevel()
		},
	}
)

// openCache builds a cache manager from the loaded configuration. The
// returned closer stops the manager and closes its store.
func openCache(opts ...cache.Option) (*cache.Manager, func() error, error) {
	cfg, err := cache.LoadConfigFromViper(viper.GetViper())
	if err != nil {
		return nil, nil, fmt.Errorf("unable to load cache configuration: %w", err)
	}

	store, err := kvstore.Open(cfg.StorageDriver, cfg.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open %s store: %w", cfg.StorageDriver, err)
	}

	opts = append([]cache.Option{cache.WithLogger(log.Default().WithPrefix("cache"))}, opts...)
	m, err := cache.NewManager(cfg, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	log.Debug("Opened cache", "driver", cfg.StorageDriver, "path", cfg.StoragePath, "cache", m)

	closer := func() error {
		_ = m.Close()
		return store.Close()
	}
	return m, closer, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	if used := viper.ConfigFileUsed(); used != "" {
		configFile = used
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", configFile, "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Config bindings
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
	viper.SetDefault("cache.storage.driver", kvstore.DriverFile)
	viper.SetDefault("cache.storage.path", defaultStoragePath())

	rootCmd.AddCommand(cacheCmd, serveCmd, configCmd, manCmd)
}

// defaultStoragePath is the per-user data directory for the file store.
func defaultStoragePath() string {
	dirs, err := gap.NewScope(gap.User, appName).DataDirs()
	if err != nil || len(dirs) == 0 {
		return filepath.Join(os.TempDir(), appName)
	}
	return filepath.Join(dirs[0], "cache")
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, appName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, appName)}, dirs...)
	}

	if c := os.Getenv("DROPSCOUT_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(appName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(appName)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], appName+".yml")
}
