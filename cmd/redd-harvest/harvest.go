package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pyqlsa/redd-harvest/pkg/auth"
	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/extract"
	"github.com/pyqlsa/redd-harvest/pkg/fetch"
	"github.com/pyqlsa/redd-harvest/pkg/harvest"
	"github.com/pyqlsa/redd-harvest/pkg/layout"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
	"github.com/pyqlsa/redd-harvest/pkg/reddit"
	"github.com/pyqlsa/redd-harvest/pkg/store"
)

var (
	// Harvest command flags
	subredditsOnly bool
	redditorsOnly  bool
	onlyName       string
	interactive    bool
)

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run one harvest pass over all configured entities",
	Long: `Run a single pass over the configured subreddits and redditors, resolving
and downloading the content their recent posts link to.

Credentials are read from the config file, the environment
(REDD_HARVEST_CLIENT_ID, REDD_HARVEST_CLIENT_SECRET), or the system keychain
when the config names a client_id but no secret.`,
	Example: `  # Harvest everything in the config
  redd-harvest harvest

  # Only tracked subreddits
  redd-harvest harvest --subreddits-only

  # A single entity, by name or alias
  redd-harvest harvest --only gardening

  # Confirm interrupts and pruning interactively
  redd-harvest harvest --interactive`,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.Flags().BoolVar(&subredditsOnly, "subreddits-only", false, "only harvest tracked subreddits")
	harvestCmd.Flags().BoolVar(&redditorsOnly, "redditors-only", false, "only harvest tracked redditors")
	harvestCmd.Flags().StringVar(&onlyName, "only", "", "only harvest the entity with this name or alias")
	harvestCmd.Flags().BoolVar(&interactive, "interactive", false, "confirm interrupts and pruning before acting")
}

func runHarvest(cmd *cobra.Command, args []string) error {
	if subredditsOnly && redditorsOnly {
		return fmt.Errorf("--subreddits-only and --redditors-only are mutually exclusive")
	}

	// Optional .env next to the working directory, for development setups.
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("redd-harvest starting")

	// Fall back to the keychain when the config names an app but no secret.
	if cfg.Globals.ClientSecret == "" && cfg.Globals.ClientID != "" {
		secret, kerr := auth.Retrieve(cfg.Globals.ClientID)
		if kerr != nil {
			return fmt.Errorf("client_secret not configured and not found in keychain: %w", kerr)
		}
		log.Debug("using client secret from keychain")
		cfg.Globals.ClientSecret = secret
	}

	source, err := reddit.NewClient(cfg, version, log)
	if err != nil {
		return fmt.Errorf("failed to create reddit client: %w", err)
	}

	client := fetch.NewClient(time.Duration(cfg.Globals.DownloadTimeout), userAgent(cfg), log)
	extractor := extract.New(cfg.Links, client, log)
	resolver := layout.NewResolver(cfg)
	retriever := fetch.NewRetriever(cfg, client, store.New(), resolver, extractor, log)

	opts := harvest.Options{
		SubredditsOnly: subredditsOnly,
		RedditorsOnly:  redditorsOnly,
		OnlyName:       onlyName,
	}
	if cfg.Globals.PruneIgnorables && interactive && !confirm("prune folders for ignored entities?") {
		opts.SkipPrune = true
	}

	ctx, cancel := harvestContext(interactive, log)
	defer cancel()

	err = harvest.New(cfg, source, retriever, log).Run(ctx, opts)
	if errors.Is(err, context.Canceled) {
		log.Info("harvest interrupted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("harvest failed: %w", err)
	}
	log.Info("harvest complete")
	return nil
}

// harvestContext returns a context cancelled on SIGINT/SIGTERM. In
// interactive mode a SIGINT first asks for confirmation; SIGTERM always
// cancels immediately.
func harvestContext(interactive bool, log logger.Logger) (context.Context, context.CancelFunc) {
	if !interactive {
		return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		for sig := range sigs {
			if sig != os.Interrupt || confirm("stop harvesting?") {
				cancel()
				return
			}
			log.Info("continuing harvest")
		}
	}()
	return ctx, cancel
}

func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

func userAgent(cfg *config.Config) string {
	return fmt.Sprintf("golang:%s:%s (by /u/%s)", cfg.Globals.App, version, cfg.Globals.Username)
}
