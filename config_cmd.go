package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
)

const defaultConfig = `# log level: debug, info, warn or error
log:
  level: "info"
  # also write logs to this file
  # file: "~/.local/state/dropscout/dropscout.log"

cache:
  # entries stamped with another version are purged at startup
  version: "1.0.0"
  # memory tier capacity
  max_memory_entries: 500
  # durable tier byte budget, e.g. "5MB" or "512KiB"
  storage_budget: "5MiB"
  # eviction frees durable usage down to this fraction of the budget
  eviction_target: 0.8
  # private prefix for durable keys
  namespace: "dropscout_cache_"
  # urlsafe, zstd or none
  compression: "urlsafe"
  default_ttl: "30m"
  # set to 0 to disable the periodic sweep
  sweep_interval: "5m"
  # categories that are never written to the durable tier
  memory_only_categories: []
  storage:
    # memory, file or sqlite
    driver: "file"
    # directory for file, database file for sqlite
    # path: "~/.local/share/dropscout/cache"

serve:
  addr: ":9090"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the dropscout config file",
	Long:    paragraph(fmt.Sprintf("\n%s the dropscout config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("dropscout config\ndropscout config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("dropscout", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

// ensureConfigFile writes the default configuration to configFile unless a
// file already exists there.
func ensureConfigFile() error {
	if configFile == "" {
		return errors.New("no config file location: pass --config")
	}

	if ext := filepath.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	_, err := os.Stat(configFile)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("unable to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("unable create directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfig), 0o600); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}

	log.Info("Created default configuration", "path", configFile)
	return nil
}
