package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/starsorter/narrative-cache/narrative"
	"github.com/starsorter/narrative-cache/profile"
	"github.com/starsorter/narrative-cache/tui"
)

var errCacheDisabled = errors.New("cache is disabled, set ENABLE_REDIS_CACHE=true")

func newNarrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "narrate [request.json]",
		Short: "Print the narrative for a request read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequestArg(cmd, args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.connect(); err != nil {
				a.log.Warn("continuing without the cache: %s", err)
			}

			gen := narrative.NewOpenAIGenerator(narrative.OpenAIConfig{
				APIKey:  a.cfg.OpenAIAPIKey,
				BaseURL: a.cfg.OpenAIBaseURL,
				Model:   a.cfg.OpenAIModel,
			}, a.log)
			bypass, _ := cmd.Flags().GetBool("bypass-cache")

			var resp narrative.Response
			tui.ShowSpinner(a.ctx, "Generating narrative...", func() {
				resp = a.service(gen).GetNarrative(a.ctx, req, bypass)
			})
			if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if dump, _ := cmd.Flags().GetBool("metrics"); dump {
				return writeMetrics(cmd.ErrOrStderr(), a.metrics)
			}
			return nil
		},
	}
	cmd.Flags().Bool("bypass-cache", false, "skip the cache and always generate")
	cmd.Flags().Bool("metrics", false, "print cache metrics to stderr when done")
	return cmd
}

// readRequestArg reads the request named by args[0], or stdin when there is
// no argument or it is "-".
func readRequestArg(cmd *cobra.Command, args []string) (profile.Request, error) {
	if len(args) == 0 || args[0] == "-" {
		return readRequest(cmd.InOrStdin())
	}
	f, err := os.Open(args[0])
	if err != nil {
		return profile.Request{}, errors.Wrap(err, "open request")
	}
	defer f.Close()
	return readRequest(f)
}

// readRequest decodes and validates one JSON request.
func readRequest(r io.Reader) (profile.Request, error) {
	var req profile.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return profile.Request{}, errors.Wrap(err, "decode request")
	}
	if err := req.Validate(); err != nil {
		return profile.Request{}, errors.Wrap(err, "invalid request")
	}
	return req, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if tui.HasTTY {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// writeMetrics prints every metric family in reg in the Prometheus text format.
func writeMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return errors.Wrap(err, "encode metrics")
		}
	}
	return nil
}
