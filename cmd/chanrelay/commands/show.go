package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/chanrelay/internal/catalog"
	"github.com/dyluth/chanrelay/internal/printer"
	"github.com/dyluth/chanrelay/internal/resolver"
)

var showOwner string

var showCmd = &cobra.Command{
	Use:   "show NAME|ID",
	Short: "Show one collection with its members",
	Long: `Show a collection's destination and members as JSON.

The collection is found by name (in --owner's namespace), by full id, or by
a short id prefix of at least 6 characters.

Examples:
  chanrelay show news
  chanrelay show 3f2a9c`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVar(&showOwner, "owner", "", "Operator namespace (per_operator tenancy)")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ref := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := resolver.ResolveCollectionID(ctx, st, showOwner, ref)
	if err != nil {
		if resolver.IsNotFoundError(err) {
			return printer.Error(
				fmt.Sprintf("collection '%s' not found", ref),
				"No collection has that name or id.",
				[]string{"List collections:\n  chanrelay collections --all"},
			)
		}
		var ambigErr *resolver.AmbiguousError
		if errors.As(err, &ambigErr) {
			fmt.Fprintln(os.Stderr, resolver.FormatAmbiguousError(ambigErr))
			return fmt.Errorf("ambiguous short ID")
		}
		return printer.Error("cannot resolve collection", err.Error(), nil)
	}

	return catalog.ShowCollection(ctx, st, id, cmd.OutOrStdout())
}
