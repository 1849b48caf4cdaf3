package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"clipmind/internal/api"
	"clipmind/internal/db"
	"clipmind/internal/search"
)

var (
	searchJSON   bool
	searchMode   string
	searchLimit  int
	searchTypes  []string
	searchSource string
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search the history by text, meaning, or both",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := search.ParseMode(searchMode)
		if err != nil {
			return err
		}
		types, err := parseTypes(searchTypes)
		if err != nil {
			return err
		}
		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Search.Search(cmd.Context(), search.Query{
			Text:   strings.Join(args, " "),
			Mode:   mode,
			Limit:  searchLimit,
			Filter: db.Filter{Types: types, SourceApp: searchSource},
		})
		if err != nil {
			return err
		}

		if searchJSON {
			type resultJSON struct {
				Item  api.ItemView      `json:"item"`
				Score float64           `json:"score"`
				Type  search.ResultType `json:"result_type"`
				Exact bool              `json:"exact"`
			}
			out := make([]resultJSON, len(results))
			for i, r := range results {
				out[i] = resultJSON{api.NewItemView(&r.Item), r.Score, r.Type, r.Exact}
			}
			return printJSON(struct {
				Query   string       `json:"query"`
				Results []resultJSON `json:"results"`
				Count   int          `json:"count"`
			}{strings.Join(args, " "), out, len(out)})
		}

		if len(results) == 0 {
			fmt.Println("  no matches")
			return nil
		}
		for _, r := range results {
			fmt.Printf("  %6d  %-13s %6.3f  %s\n", r.Item.ID, r.Type, r.Score, preview(&r.Item, 70))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")
	searchCmd.Flags().StringVar(&searchMode, "mode", "hybrid", "Search mode: text, semantic or hybrid")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum results (default from config)")
	searchCmd.Flags().StringSliceVar(&searchTypes, "type", nil, "Only these content types")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "Only items from this source app")
	rootCmd.AddCommand(searchCmd)
}
