package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// newSearchCmd creates the 'search' subcommand: a one-shot dispatch that
// prints the aggregated result set as JSON and exits.
func newSearchCmd() *cobra.Command {
	var (
		keywords   []string
		maxResults int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Runs a one-shot keyword search and prints the result as JSON",
		Long: `Searches the portal for the given keywords without starting the HTTP
server. Keywords may be repeated or comma separated. The aggregated result
set is printed to stdout as indented JSON.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearchCommand(cmd, keywords, maxResults)
		},
	}

	cmd.Flags().StringSliceVarP(&keywords, "keywords", "k", nil, "keywords to search for")
	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "aggregate result cap (0 uses the configured limit)")
	_ = cmd.MarkFlagRequired("keywords")

	return cmd
}

func runSearchCommand(cmd *cobra.Command, keywords []string, maxResults int) error {
	svc, err := resolveService(cmd.Context())
	if err != nil {
		return err
	}

	result, err := svc.Search(cmd.Context(), search.Request{
		Keywords:   keywords,
		MaxResults: maxResults,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
