package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/starsorter/narrative-cache/cache"
	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/starsorter/narrative-cache/config"
	"github.com/starsorter/narrative-cache/narrative"
	"github.com/starsorter/narrative-cache/resilience"
	"github.com/starsorter/narrative-cache/tui"
)

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <pattern>",
		Short: "Delete every cache key matching a glob pattern",
		Long: "Delete every cache key matching a glob pattern. The cache prefix is added\n" +
			"unless the pattern already starts with it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireStore(); err != nil {
				return err
			}
			if err := a.connect(); err != nil {
				return err
			}
			pattern := args[0]
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				ok, err := tui.Ask(fmt.Sprintf("Delete every key matching %s?", pattern), false)
				if err != nil {
					return err
				}
				if !ok {
					tui.ShowWarning(cmd.ErrOrStderr(), "nothing deleted, pass --yes to purge without a terminal")
					return nil
				}
			}
			n := a.store.DeleteByPattern(a.ctx, pattern)
			tui.ShowSuccess(cmd.OutOrStdout(), "deleted %s keys matching %s", humanize.Comma(n), pattern)
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store hit rate, memory, key count and breaker state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireStore(); err != nil {
				return err
			}
			if err := a.connect(); err != nil {
				a.log.Warn("store is degraded: %s", err)
			}
			st := a.store.Stats(a.ctx)
			br := a.store.BreakerStats()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), statsReport{Stats: st, Breaker: br.State.String(), Failures: br.Failures})
			}
			writeStats(cmd.OutOrStdout(), st, br)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print JSON instead of a table")
	return cmd
}

type statsReport struct {
	cache.Stats
	Breaker  string `json:"breaker"`
	Failures int    `json:"breakerFailures"`
}

func writeStats(w io.Writer, st cache.Stats, br resilience.CircuitBreakerStats) {
	rows := [][]string{
		{"keys", humanize.Comma(st.Keys)},
		{"memory used", st.MemoryUsed},
		{"hits", humanize.Comma(st.Hits)},
		{"misses", humanize.Comma(st.Misses)},
		{"hit rate", strconv.FormatFloat(st.HitRate*100, 'f', 1, 64) + "%"},
		{"breaker", br.State.String()},
		{"breaker failures", strconv.Itoa(br.Failures)},
	}
	if br.State == resilience.StateOpen {
		rows = append(rows, []string{"breaker opened", humanize.Time(br.OpenedAt)})
	}
	tui.Table(w, []string{"metric", "value"}, rows)
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and run the store startup checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, tui.Title("configuration"))
			tui.Table(out, []string{"setting", "value"}, configRows(a.cfg, a.promptHash()))
			if err := a.connect(); err != nil {
				return err
			}
			if a.store == nil {
				tui.ShowWarning(out, "cache disabled, narratives are generated on every request")
				return nil
			}
			tui.ShowSuccess(out, "store ready at %s", a.cfg.RedactedURL())
			return nil
		},
	}
}

func configRows(cfg config.Config, promptHash string) [][]string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	return [][]string{
		{"store", cfg.RedactedURL()},
		{"cache", onOff(cfg.EnableStore)},
		{"stale-while-revalidate", onOff(cfg.EnableSWR)},
		{"stampede protection", onOff(cfg.EnableStampedeProtection)},
		{"negative cache", onOff(cfg.EnableNegativeCache)},
		{"prefix", cfg.Prefix},
		{"stale after", fmt.Sprintf("%d days", cfg.StaleDays)},
		{"ttl", fmt.Sprintf("%d days", cfg.TTLDays)},
		{"max value", humanize.IBytes(uint64(cfg.MaxValueBytes))},
		{"compress above", humanize.IBytes(uint64(cfg.CompressThreshold))},
		{"eviction policy", cfg.EvictionPolicy},
		{"engine", cfg.EngineVersion},
		{"prompt hash", cachekey.NormalizePromptHash(promptHash)},
	}
}

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key [request.json]",
		Short: "Print the cache keys a request maps to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequestArg(cmd, args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			key := a.service(nil).Key(req)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, key)
			if verbose, _ := cmd.Flags().GetBool("all"); verbose {
				fmt.Fprintln(out, cachekey.LockKey(key))
				fmt.Fprintln(out, cachekey.RefreshKey(key))
				fmt.Fprintln(out, cachekey.NegativeKey(key))
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "also print the lock, refresh and negative keys")
	return cmd
}

func newHashPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-prompt",
		Short: "Print the hash of the built-in prompts, the value PROMPT_HASH defaults to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), narrative.PromptHash())
			return nil
		},
	}
}
