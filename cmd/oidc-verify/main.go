// Package main is a oneshot token verifier: it validates a bearer
// token against an identity provider and prints the trusted claims.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vyrodovalexey/oidcrp/config"
	"github.com/vyrodovalexey/oidcrp/observability"
	"github.com/vyrodovalexey/oidcrp/oidc"
	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath   string
	providerName string
	discoveryURL string
	issuer       string
	audience     string
	algs         string
	skew         time.Duration
	token        string
	logLevel     string
	showVersion  bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("oidc-verify version %s (%s)\n", version, gitCommit)
		return 0
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	providerCfg, err := resolveProviderConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	token, err := resolveToken(flags.token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	provider, err := oidc.NewProvider(providerCfg,
		oidc.WithProviderLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info, err := provider.ValidateToken(ctx, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token rejected [%s]: %v\n", oidcerr.CodeOf(err), err)
		return 2
	}

	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))

	return 0
}

func parseFlags() cliFlags {
	configPath := flag.String("config", "", "Path to configuration file")
	providerName := flag.String("provider", "", "Provider name from the configuration file")
	discoveryURL := flag.String("discovery-url", "", "Discovery document URL")
	issuer := flag.String("issuer", "", "Expected token issuer")
	audience := flag.String("audience", "", "Expected token audience")
	algs := flag.String("algs", "RS256", "Comma-separated signature algorithm allow-list")
	skew := flag.Duration("skew", time.Minute, "Clock skew tolerance")
	token := flag.String("token", "-", "Token to validate, or - to read from stdin")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:   *configPath,
		providerName: *providerName,
		discoveryURL: *discoveryURL,
		issuer:       *issuer,
		audience:     *audience,
		algs:         *algs,
		skew:         *skew,
		token:        *token,
		logLevel:     *logLevel,
		showVersion:  *showVersion,
	}
}

// resolveProviderConfig builds the provider configuration from a
// config file block or from the direct flags.
func resolveProviderConfig(flags cliFlags) (*oidc.Config, error) {
	if flags.configPath != "" {
		cfg, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}

		name := flags.providerName
		if name == "" && len(cfg.Providers) == 1 {
			name = cfg.Providers[0].Name
		}

		p, ok := cfg.Provider(name)
		if !ok {
			return nil, fmt.Errorf("provider %q not found in %s", name, flags.configPath)
		}

		return p.ToOIDC(), nil
	}

	if flags.discoveryURL == "" || flags.issuer == "" || flags.audience == "" {
		return nil, fmt.Errorf("either -config or all of -discovery-url, -issuer, -audience are required")
	}

	return &oidc.Config{
		Name:         "cli",
		DiscoveryURL: flags.discoveryURL,
		Issuer:       flags.issuer,
		Audience:     flags.audience,
		AllowedAlgs:  splitAlgs(flags.algs),
		ClockSkew:    flags.skew,
	}, nil
}

func resolveToken(arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading token from stdin: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("no token supplied")
	}

	return token, nil
}

func splitAlgs(s string) []string {
	var algs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			algs = append(algs, a)
		}
	}
	return algs
}
