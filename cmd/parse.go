package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/clinic-crawler/internal/crawler"
)

// newParseCmd creates the 'parse' subcommand, which runs the field extractor
// over a saved clinic page without touching the network.
func newParseCmd() *cobra.Command {
	var region, pageURL string
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Extract one clinic record from a saved page and print it as JSON",
		Long: `Reads a saved clinic detail page (or "-" for stdin), applies the same
extraction rules as crawl, and prints the resulting record as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			record, err := crawler.NewFieldExtractor().Extract(body, pageURL, region)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region name to attach to the record")
	cmd.Flags().StringVar(&pageURL, "url", "", "source URL to attach to the record")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return body, nil
}
