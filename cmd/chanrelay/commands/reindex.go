package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/chanrelay/internal/printer"
	"github.com/dyluth/chanrelay/pkg/relay"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Ask every relayd to rebuild its routing index",
	Long: `Publish a full-rebuild routing change. Every relayd of the instance
reloads its routing index from the store.

Use this after editing the store directly.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := connectRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	change := &relay.RoutingChange{
		Origin: "cli-" + uuid.New().String(),
		Kind:   relay.ChangeFull,
		AtMs:   time.Now().UnixMilli(),
	}
	if err := client.PublishRoutingChange(ctx, change); err != nil {
		return err
	}
	printer.Success("Rebuild requested for instance '%s'\n", cfg.Instance)
	return nil
}
