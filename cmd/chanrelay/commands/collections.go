package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/chanrelay/internal/catalog"
	"github.com/dyluth/chanrelay/internal/printer"
)

var (
	collectionsOwner        string
	collectionsAll          bool
	collectionsOutputFormat string
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List collections in the routing store",
	Long: `List collections with their destination and member count.

In per_operator tenancy each operator has a private namespace; pass --owner
with the operator id, or --all to list every namespace.

Output Formats:
  default - Human-readable table
  jsonl   - Line-delimited JSON, one collection per line

Examples:
  chanrelay collections
  chanrelay collections --all --output=jsonl | jq .name`,
	RunE: runCollections,
}

func init() {
	collectionsCmd.Flags().StringVar(&collectionsOwner, "owner", "", "Operator namespace (per_operator tenancy)")
	collectionsCmd.Flags().BoolVar(&collectionsAll, "all", false, "List collections of every owner")
	collectionsCmd.Flags().StringVarP(&collectionsOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	rootCmd.AddCommand(collectionsCmd)
}

func runCollections(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var format catalog.OutputFormat
	switch collectionsOutputFormat {
	case "default":
		format = catalog.OutputFormatDefault
	case "jsonl":
		format = catalog.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", collectionsOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return catalog.ListCollections(ctx, st, collectionsOwner, collectionsAll, cfg.Instance, format, cmd.OutOrStdout())
}
