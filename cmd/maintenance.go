package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"clipmind/internal/history"
)

var (
	cleanupJSON bool
	statsJSON   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Apply the retention policy once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Service.CleanupOldItems(cmd.Context())
		if err != nil {
			return err
		}
		if cleanupJSON {
			return printJSON(res)
		}
		printCleanup(res, a.Config.Retention.MaxItems)
		return nil
	},
}

func printCleanup(res *history.CleanupResult, maxItems int) {
	fmt.Printf("  items: %d -> %d (max %d), deleted %d in %s\n",
		res.Before, res.After, maxItems, res.Deleted, res.Duration.Round(time.Millisecond))
	if res.ExpiredPasswords > 0 {
		fmt.Printf("  %d password items are past their timeout\n", res.ExpiredPasswords)
	}
}

type statsReport struct {
	Database       string           `json:"database"`
	SizeBytes      int64            `json:"size_bytes"`
	Items          int64            `json:"items"`
	ByType         map[string]int64 `json:"by_type"`
	WithEmbeddings int64            `json:"with_embeddings"`
	ExpiredPwds    int64            `json:"expired_passwords"`
	MaxItems       int              `json:"max_items"`
	Embedding      string           `json:"embedding_backend"`
	OCR            bool             `json:"ocr_available"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show history size and enrichment coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		report := statsReport{
			Database:  a.Config.Storage.Path,
			ByType:    map[string]int64{},
			MaxItems:  a.Config.Retention.MaxItems,
			Embedding: a.Config.Enrichment.Embedding.Backend,
			OCR:       a.OCR != nil,
		}
		if fi, err := os.Stat(a.Config.Storage.Path); err == nil {
			report.SizeBytes = fi.Size()
		}
		if report.Items, err = a.Store.Count(ctx); err != nil {
			return err
		}
		counts, err := a.Store.CountByType(ctx)
		if err != nil {
			return err
		}
		for t, n := range counts {
			report.ByType[string(t)] = n
		}
		if report.WithEmbeddings, err = a.Store.CountWithEmbeddings(ctx); err != nil {
			return err
		}
		if timeout := a.Config.Security.PasswordTimeout.Duration; timeout > 0 {
			if report.ExpiredPwds, err = a.Store.CountPasswordsOlderThan(ctx, time.Now().Add(-timeout)); err != nil {
				return err
			}
		}

		if statsJSON {
			return printJSON(report)
		}
		fmt.Printf("\n  Database: %s (%.1f MiB)\n", report.Database, float64(report.SizeBytes)/(1<<20))
		fmt.Printf("  Items: %d / %d\n", report.Items, report.MaxItems)
		types := make([]string, 0, len(report.ByType))
		for t := range report.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("    %-10s %d\n", t, report.ByType[t])
		}
		fmt.Printf("  Embedded: %d (%s)\n", report.WithEmbeddings, report.Embedding)
		fmt.Printf("  OCR: %v\n", report.OCR)
		if report.ExpiredPwds > 0 {
			fmt.Printf("  Expired passwords: %d\n", report.ExpiredPwds)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupJSON, "json", false, "Output as JSON")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(cleanupCmd, statsCmd)
}
