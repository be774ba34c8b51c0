package env

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/starsorter/narrative-cache/logger"
	"github.com/starsorter/narrative-cache/telemetry"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses a .env file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits KEY=VALUE, stripping an optional "export " and one
// level of quotes around the value.
func ProcessEnvLine(line string) EnvLine {
	line = strings.TrimPrefix(line, "export ")
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

// interpolate expands ${NAME} and ${NAME:-default} from the lines seen so far,
// then the process environment. Unresolved references without a default are
// left untouched.
func interpolate(input string, seen map[string]string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var sb strings.Builder
	for {
		start := strings.Index(input, "${")
		if start < 0 {
			sb.WriteString(input)
			return sb.String()
		}
		end := strings.IndexByte(input[start:], '}')
		if end < 0 {
			sb.WriteString(input)
			return sb.String()
		}
		end += start
		sb.WriteString(input[:start])
		ref := input[start : end+1]
		name, def, _ := strings.Cut(input[start+2:end], ":-")
		switch {
		case name == "":
			sb.WriteString(ref)
		case seen[name] != "":
			sb.WriteString(seen[name])
		case os.Getenv(name) != "":
			sb.WriteString(os.Getenv(name))
		case def != "":
			sb.WriteString(def)
		default:
			sb.WriteString(ref)
		}
		input = input[end+1:]
	}
}

// ParseEnvBuffer parses the contents of a .env file. Blank lines and lines
// starting with # are skipped.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	seen := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(line)
		if env.Key == "" {
			continue
		}
		env.Val = interpolate(env.Val, seen)
		seen[env.Key] = env.Val
		envs = append(envs, env)
	}
	return envs, nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel resolves --log-level, then NARRATIVE_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, "info"), logger.LevelInfo)
}

// NewLogger returns a console logger at the level chosen by LogLevel.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	return logger.NewConsoleLogger(LogLevel(cmd))
}

// NewTelemetry wires trace export when an OTLP endpoint is configured through
// --otlp-url or OTEL_EXPORTER_OTLP_ENDPOINT, and --no-telemetry is not set.
// Without an endpoint the plain logger is returned with a no-op shutdown.
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string) (context.Context, logger.Logger, func(), error) {
	log := NewLogger(cmd)
	if noTelemetry, err := cmd.Flags().GetBool("no-telemetry"); err == nil && noTelemetry {
		return ctx, log, func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", "OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if otlpURL == "" {
		return ctx, log, func() {}, nil
	}
	secret := FlagOrEnv(cmd, "otlp-shared-secret", "NARRATIVE_OTLP_SHARED_SECRET", "")
	telemetryCtx, tlog, shutdown, err := telemetry.New(ctx, serviceName, secret, otlpURL, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating telemetry: %w", err)
	}
	return telemetryCtx, tlog, shutdown, nil
}
