// Command watchctl queries the marketplace the way the watcher does, without
// sending alerts.
//
// Usage:
//
//	watchctl fetch --partition snowball
//	watchctl probe --id 640
//	watchctl info --slug golden-hour
//	watchctl scan --from 640 --forward 15 --backward 25
//	watchctl chart --slug golden-hour --out golden-hour.png
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/collection-watch/internal/chart"
	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/config"
	"github.com/albapepper/collection-watch/internal/discovery"
	"github.com/albapepper/collection-watch/internal/marketplace"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "watchctl",
		Short:        "Marketplace inspection CLI",
		SilenceUsage: true,
	}

	root.AddCommand(fetchCmd())
	root.AddCommand(probeCmd())
	root.AddCommand(infoCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(chartCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runClient loads configuration, builds a marketplace client and runs fn
// under a signal-aware context.
func runClient(fn func(ctx context.Context, cfg *config.Config, mp *marketplace.Client) error) error {
	cfg, err := config.LoadTools()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	mp := marketplace.NewClient(cfg.BaseURL, cfg.PartnerID, cfg.MarketplaceRPM, cfg.MarketplaceTimeout, logger)
	return fn(ctx, cfg, mp)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --------------------------------------------------------------------------
// fetch command
// --------------------------------------------------------------------------

func fetchCmd() *cobra.Command {
	var partition string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch full partition listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			parts := collection.Partitions()
			if partition != "" {
				p, err := collection.ParsePartition(partition)
				if err != nil {
					return err
				}
				parts = []collection.Partition{p}
			}
			return runClient(func(ctx context.Context, _ *config.Config, mp *marketplace.Client) error {
				out := make(map[collection.Partition][]collection.Collection, len(parts))
				for _, p := range parts {
					cs, err := mp.FetchCollections(ctx, p)
					if err != nil {
						return err
					}
					logger.Info("Partition fetched", "partition", p, "collections", len(cs))
					out[p] = cs
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&partition, "partition", "", "Partition (regular, partner, snowball); all when empty")
	return cmd
}

// --------------------------------------------------------------------------
// probe / info commands
// --------------------------------------------------------------------------

func probeCmd() *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether a collection ID exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return fmt.Errorf("--id is required")
			}
			return runClient(func(ctx context.Context, _ *config.Config, mp *marketplace.Client) error {
				p, err := mp.ProbeCollection(ctx, id)
				if err != nil {
					return err
				}
				if p == nil {
					logger.Info("Collection not found", "collection_id", id)
					return nil
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "Collection ID")
	return cmd
}

func infoCmd() *cobra.Command {
	var slug string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Load the detail record of a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if slug == "" {
				return fmt.Errorf("--slug is required")
			}
			return runClient(func(ctx context.Context, _ *config.Config, mp *marketplace.Client) error {
				c, err := mp.FetchInfo(ctx, slug)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "Collection slug")
	return cmd
}

// --------------------------------------------------------------------------
// scan command
// --------------------------------------------------------------------------

func scanCmd() *cobra.Command {
	var from, forward, backward int
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Dry-run the discovery sweep around an ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from <= 0 {
				return fmt.Errorf("--from is required")
			}
			return runClient(func(ctx context.Context, _ *config.Config, mp *marketplace.Client) error {
				s := discovery.New(discovery.Options{
					Prober:         mp,
					ForwardWindow:  forward,
					BackwardWindow: backward,
					Logger:         logger,
				})
				highest := s.Initialize(ctx, []collection.Collection{{ID: from}})
				return printJSON(map[string]any{
					"from":           from,
					"highestKnownId": highest,
					"known":          s.Known(),
				})
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "Highest ID assumed known")
	cmd.Flags().IntVar(&forward, "forward", discovery.DefaultForwardWindow, "IDs to probe above --from")
	cmd.Flags().IntVar(&backward, "backward", discovery.DefaultBackwardWindow, "IDs to probe below the highest found")
	return cmd
}

// --------------------------------------------------------------------------
// chart command
// --------------------------------------------------------------------------

func chartCmd() *cobra.Command {
	var slug, out string
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Render the alert chart of a collection to a PNG file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if slug == "" {
				return fmt.Errorf("--slug is required")
			}
			if out == "" {
				out = slug + ".png"
			}
			return runClient(func(ctx context.Context, _ *config.Config, mp *marketplace.Client) error {
				c, err := mp.FetchInfo(ctx, slug)
				if err != nil {
					return err
				}
				points, err := mp.FetchChart(ctx, *c, collection.ChartPeriod(*c))
				if err != nil {
					return err
				}
				img, err := chart.New(chart.Options{}).Render(*c, c.Percent, points)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, img, 0o644); err != nil {
					return err
				}
				logger.Info("Chart written", "slug", slug, "points", len(points), "file", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "Collection slug")
	cmd.Flags().StringVar(&out, "out", "", "Output file, <slug>.png when empty")
	return cmd
}
