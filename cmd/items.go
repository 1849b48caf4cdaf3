package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clipmind/internal/api"
	"clipmind/internal/capture"
	"clipmind/internal/db"
)

var (
	listJSON   bool
	listLimit  int
	listTypes  []string
	listSource string

	getJSON bool
	getCopy bool

	deleteJSON bool

	clearYes  bool
	clearJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent clipboard items, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := parseTypes(listTypes)
		if err != nil {
			return err
		}
		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.Service.GetRecent(cmd.Context(), listLimit, db.Filter{Types: types, SourceApp: listSource})
		if err != nil {
			return err
		}
		if listJSON {
			return printJSON(struct {
				Items []api.ItemView `json:"items"`
				Count int            `json:"count"`
			}{itemViews(items), len(items)})
		}
		if len(items) == 0 {
			fmt.Println("  (history is empty)")
			return nil
		}
		for i := range items {
			printItemLine(&items[i])
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id|query>",
	Short: "Print one item's content (decrypted if needed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := ResolveItem(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		if getCopy {
			if err := capture.Copy(item.Content, item.ContentType == db.TypeImage); err != nil {
				return err
			}
		}
		if getJSON {
			return printJSON(api.NewItemView(item))
		}
		if item.ContentType == db.TypeImage && term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Printf("[image %d bytes] redirect stdout to save it\n", len(item.Content))
			if item.OCRText != nil {
				fmt.Println(*item.OCRText)
			}
			return nil
		}
		_, err = os.Stdout.Write(item.Content)
		return err
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id|query>...",
	Short: "Delete items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var deleted []int64
		for _, ref := range args {
			item, err := ResolveItem(cmd.Context(), a, ref)
			if err != nil {
				return err
			}
			ok, err := a.Service.DeleteItem(cmd.Context(), item.ID)
			if err != nil {
				return err
			}
			if ok {
				deleted = append(deleted, item.ID)
			}
		}
		if deleteJSON {
			return printJSON(map[string]any{"deleted": deleted})
		}
		for _, id := range deleted {
			fmt.Printf("  deleted %d\n", id)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the whole clipboard history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := OpenApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !clearYes {
			n, err := a.Service.Count(cmd.Context())
			if err != nil {
				return err
			}
			if !confirm(fmt.Sprintf("Delete all %d items?", n)) {
				return fmt.Errorf("aborted (use --yes to skip the prompt)")
			}
		}
		n, err := a.Service.ClearAll(cmd.Context())
		if err != nil {
			return err
		}
		if clearJSON {
			return printJSON(map[string]int64{"deleted": n})
		}
		fmt.Printf("  deleted %d items\n", n)
		return nil
	},
}

// confirm asks on the terminal; without one the answer is no.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum items to show")
	listCmd.Flags().StringSliceVar(&listTypes, "type", nil, "Only these content types (repeatable or comma-separated)")
	listCmd.Flags().StringVar(&listSource, "source", "", "Only items from this source app")

	getCmd.Flags().BoolVar(&getJSON, "json", false, "Output as JSON")
	getCmd.Flags().BoolVar(&getCopy, "copy", false, "Also copy the item back to the system clipboard")

	deleteCmd.Flags().BoolVar(&deleteJSON, "json", false, "Output as JSON")

	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Do not ask for confirmation")
	clearCmd.Flags().BoolVar(&clearJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(listCmd, getCmd, deleteCmd, clearCmd)
}
