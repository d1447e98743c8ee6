package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/dropscout/internal/cache"
)

var (
	setData       string
	setTTL        time.Duration
	setPreset     string
	setMemoryOnly bool
	statsJSON     bool

	errMiss = errors.New("cache miss")

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Read and modify cached lookups",
		Long:  paragraph(fmt.Sprintf("\n%s, store and invalidate cached lookups, and inspect cache usage.", keyword("Read"))),
		Args:  cobra.NoArgs,
	}

	cacheGetCmd = &cobra.Command{
		Use:           "get CATEGORY [KEY=VALUE...]",
		Short:         "Print a cached value",
		Example:       paragraph("dropscout cache get search query=\"phone case\" page=1"),
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			m, closer, err := openCache()
			if err != nil {
				return err
			}
			defer closer() //nolint:errcheck

			raw, ok := m.Get(args[0], params)
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), miss("miss"))
				return errMiss
			}
			return writeJSON(cmd.OutOrStdout(), raw)
		},
	}

	cacheSetCmd = &cobra.Command{
		Use:     "set CATEGORY [KEY=VALUE...] --data JSON",
		Short:   "Store a value",
		Example: paragraph("dropscout cache set product id=123 --data '{\"title\":\"Desk lamp\"}' --preset product"),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			opts, err := setOptions()
			if err != nil {
				return err
			}

			data := []byte(setData)
			if setData == "-" {
				if data, err = io.ReadAll(os.Stdin); err != nil {
					return fmt.Errorf("unable to read from stdin: %w", err)
				}
			}
			if !json.Valid(data) {
				return errors.New("--data must be valid JSON")
			}

			m, closer, err := openCache()
			if err != nil {
				return err
			}
			defer closer() //nolint:errcheck

			m.Set(args[0], params, json.RawMessage(data), opts...)
			log.Info("Stored", "category", args[0], "params", len(params))
			return nil
		},
	}

	cacheInvalidateCmd = &cobra.Command{
		Use:   "invalidate CATEGORY [KEY=VALUE...]",
		Short: "Remove one cached value, or a whole category",
		Long:  paragraph(fmt.Sprintf("\nWith parameters, remove the single matching entry. %s, remove every entry in the category.", keyword("Without parameters"))),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			m, closer, err := openCache()
			if err != nil {
				return err
			}
			defer closer() //nolint:errcheck

			m.Invalidate(args[0], params)
			return nil
		},
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closer, err := openCache()
			if err != nil {
				return err
			}
			defer closer() //nolint:errcheck

			stats := m.Stats()
			if statsJSON {
				b, err := json.Marshal(statsResponse(stats, m.Config()))
				if err != nil {
					return fmt.Errorf("unable to encode stats: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), b)
			}

			isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
			return renderStats(cmd.OutOrStdout(), stats, m.Config(), isTerminal)
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached value",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, closer, err := openCache()
			if err != nil {
				return err
			}
			defer closer() //nolint:errcheck

			m.ClearAll()
			log.Info("Cache cleared")
			return nil
		},
	}
)

func init() {
	cacheSetCmd.Flags().StringVarP(&setData, "data", "d", "", "JSON value to store (- reads stdin)")
	cacheSetCmd.Flags().DurationVar(&setTTL, "ttl", 0, "time to live (default from config)")
	cacheSetCmd.Flags().StringVar(&setPreset, "preset", "", fmt.Sprintf("ttl preset (%s)", presetNames()))
	cacheSetCmd.Flags().BoolVar(&setMemoryOnly, "memory-only", false, "skip the durable tier")
	_ = cacheSetCmd.MarkFlagRequired("data")
	cacheSetCmd.MarkFlagsMutuallyExclusive("ttl", "preset")

	cacheStatsCmd.Flags().BoolVar(&statsJSON, "json", false, "print stats as JSON")

	cacheCmd.AddCommand(cacheGetCmd, cacheSetCmd, cacheInvalidateCmd, cacheStatsCmd, cacheClearCmd)
}

func setOptions() ([]cache.SetOption, error) {
	var opts []cache.SetOption
	if setPreset != "" {
		p := cache.Preset(setPreset)
		if _, ok := p.TTL(); !ok {
			return nil, fmt.Errorf("unknown preset %q: use one of %s", setPreset, presetNames())
		}
		opts = append(opts, cache.WithPreset(p))
	}
	if setTTL > 0 {
		opts = append(opts, cache.WithTTL(setTTL))
	}
	if setMemoryOnly {
		opts = append(opts, cache.MemoryOnly())
	}
	return opts, nil
}

func presetNames() string {
	names := make([]string, 0, len(cache.Presets()))
	for _, p := range cache.Presets() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}

func writeJSON(w io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("unable to format value: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// statsBody is the JSON form of cache stats.
type statsBody struct {
	MemoryEntries    int     `json:"memoryEntries"`
	MaxMemoryEntries int     `json:"maxMemoryEntries"`
	StorageEntries   int     `json:"storageEntries"`
	StorageBytes     int64   `json:"storageBytes"`
	StorageBudget    int64   `json:"storageBudget"`
	StorageUsage     float64 `json:"storageUsage"`
}

func statsResponse(s cache.Stats, cfg cache.Config) statsBody {
	return statsBody{
		MemoryEntries:    s.MemoryEntries,
		MaxMemoryEntries: cfg.MaxMemoryEntries,
		StorageEntries:   s.StorageEntries,
		StorageBytes:     s.StorageBytes,
		StorageBudget:    int64(cfg.StorageBudget),
		StorageUsage:     float64(s.StorageBytes) / float64(cfg.StorageBudget),
	}
}

// renderStats writes stats as a glamour table on a terminal, and as plain
// lines otherwise.
func renderStats(w io.Writer, s cache.Stats, cfg cache.Config, tty bool) error {
	usage := 100 * float64(s.StorageBytes) / float64(cfg.StorageBudget)
	rows := [][2]string{
		{"Memory entries", fmt.Sprintf("%s / %s", humanize.Comma(int64(s.MemoryEntries)), humanize.Comma(int64(cfg.MaxMemoryEntries)))},
		{"Storage entries", humanize.Comma(int64(s.StorageEntries))},
		{"Storage used", fmt.Sprintf("%s / %s (%.1f%%)", humanize.IBytes(uint64(s.StorageBytes)), cfg.StorageBudget, usage)}, //nolint:gosec
		{"Schema version", cfg.Version},
	}

	if !tty {
		for _, r := range rows {
			if _, err := fmt.Fprintf(w, "%s: %s\n", r[0], r[1]); err != nil {
				return fmt.Errorf("unable to write to writer: %w", err)
			}
		}
		return nil
	}

	var md strings.Builder
	md.WriteString("| Cache | |\n|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&md, "| %s | %s |\n", r[0], r[1])
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(md.String())
	if err != nil {
		return fmt.Errorf("unable to render stats: %w", err)
	}
	if _, err := fmt.Fprint(w, out); err != nil {
		return fmt.Errorf("unable to write to writer: %w", err)
	}
	return nil
}
