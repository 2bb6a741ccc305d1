package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"igharvest/internal/models"
	"igharvest/internal/scraper"
	"igharvest/internal/service"
	"igharvest/internal/utils"
)

var (
	scrapeTarget string
	scrapeLimit  int
	scrapeSince  string

	batchFile  string
	batchLimit int
	batchSince string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape a single profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scrapeTarget == "" {
			return fmt.Errorf("target username required (-u)")
		}

		since, err := parseSince(scrapeSince)
		if err != nil {
			return err
		}

		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		outcome, err := svc.FetchProfile(ctx, scrapeTarget, scraper.Options{
			Limit: scrapeLimit,
			Since: since,
		})
		if err != nil {
			return err
		}

		utils.Infof("scraped %s: %d posts (via %s)", outcome.Username, len(outcome.Posts), outcome.ScrapedWith)
		return printJSON(outcome)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [usernames...]",
	Short: "Scrape multiple profiles with one account",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets := args
		if batchFile != "" {
			fromFile, err := readTargets(batchFile)
			if err != nil {
				return err
			}
			targets = append(targets, fromFile...)
		}
		if len(targets) == 0 {
			return fmt.Errorf("no targets given")
		}

		since, err := parseSince(batchSince)
		if err != nil {
			return err
		}

		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		bar := progressbar.NewOptions(len(targets),
			progressbar.OptionSetDescription("scraping"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		batch, err := svc.FetchBatch(ctx, targets, scraper.BatchOptions{
			Limit: batchLimit,
			Since: since,
			OnOutcome: func(models.ScrapeOutcome) {
				_ = bar.Add(1)
			},
		})
		if err != nil {
			return err
		}
		_ = bar.Finish()

		utils.Infof("batch done: %d/%d targets succeeded", batch.Succeeded, batch.Requested)
		return printJSON(batch)
	},
}

func init() {
	scrapeCmd.Flags().StringVarP(&scrapeTarget, "username", "u", "", "target profile username")
	scrapeCmd.Flags().IntVarP(&scrapeLimit, "limit", "n", 0, "max posts (0 = configured default)")
	scrapeCmd.Flags().StringVar(&scrapeSince, "since", "", "only posts on/after this date (YYYY-MM-DD)")

	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "file with one username per line")
	batchCmd.Flags().IntVarP(&batchLimit, "limit", "n", 0, "max posts per target (0 = configured default)")
	batchCmd.Flags().StringVar(&batchSince, "since", "", "only posts on/after this date (YYYY-MM-DD)")
}

// newService builds the service stack plus a context cancelled on
// SIGINT/SIGTERM; cleanup shuts the browser pool down.
func newService() (*service.Service, context.Context, func(), error) {
	svc, err := service.New(appConfig)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		utils.Warnf("received %v, shutting down", sig)
		cancel()
	}()

	cleanup := func() {
		signal.Stop(sigChan)
		cancel()
		svc.Shutdown()
	}
	return svc, ctx, cleanup, nil
}

func parseSince(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since date %q: %w", value, err)
	}
	return t, nil
}

func readTargets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer f.Close()

	var targets []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	return targets, sc.Err()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
