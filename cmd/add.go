package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipmind/internal/api"
	"clipmind/internal/capture"
	"clipmind/internal/history"
)

var (
	addJSON   bool
	addSource string
	addTitle  string
	addMime   string
	addWait   time.Duration
)

var addCmd = &cobra.Command{
	Use:   "add [text...]",
	Short: "Store text from the arguments, or any payload from stdin",
	Long: "Runs the payload through the same pipeline as a clipboard capture: " +
		"classification, password handling, dedup, storage and enrichment.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if len(args) > 0 {
			r = strings.NewReader(strings.Join(args, " "))
		}
		src := &capture.ReaderSource{R: r, SourceApp: addSource, WindowTitle: addTitle, MimeType: addMime}

		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if a.OCR != nil {
			a.OCR.Start(ctx)
		}

		events, err := src.Stream(ctx)
		if err != nil {
			return err
		}
		item, err := a.Service.ProcessEvent(ctx, <-events)
		if history.IsRejection(err) {
			if addJSON {
				return printJSON(map[string]string{"skipped": err.Error()})
			}
			fmt.Fprintln(os.Stderr, "  skipped:", err)
			return nil
		}
		if err != nil {
			return err
		}

		// Let enrichment land so the printed item is complete.
		a.Service.Wait()
		if a.OCR != nil && addWait > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, addWait)
			err := a.OCR.WaitIdle(waitCtx)
			cancel()
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
		}
		if fresh, err := a.Store.Get(ctx, item.ID); err == nil {
			item = fresh
		}

		if addJSON {
			return printJSON(api.NewItemView(item))
		}
		fmt.Printf("  stored %d as %s\n", item.ID, item.ContentType)
		return nil
	},
}

func init() {
	addCmd.Flags().BoolVar(&addJSON, "json", false, "Output as JSON")
	addCmd.Flags().StringVar(&addSource, "source", "cli", "Source application recorded with the item")
	addCmd.Flags().StringVar(&addTitle, "title", "", "Window title recorded with the item")
	addCmd.Flags().StringVar(&addMime, "mime", "", "Mime type (sniffed when empty)")
	addCmd.Flags().DurationVar(&addWait, "wait", 30*time.Second, "How long to wait for OCR before exiting")
	rootCmd.AddCommand(addCmd)
}
