package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/chanrelay/internal/printer"
	"github.com/dyluth/chanrelay/pkg/relay"
)

var (
	postSourceID int64
	postHandle   string
	postRef      string
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Publish a test post event",
	Long: `Publish a post as if the transport had just seen it in a source channel.
relayd routes it to every destination whose collection contains the source.

Examples:
  chanrelay post --source-id -1001234567890 --ref 42
  chanrelay post --handle @newsfeed --ref 43`,
	RunE: runPost,
}

func init() {
	postCmd.Flags().Int64Var(&postSourceID, "source-id", 0, "Numeric id of the source channel")
	postCmd.Flags().StringVar(&postHandle, "handle", "", "Public handle of the source channel")
	postCmd.Flags().StringVar(&postRef, "ref", "", "Message reference (required)")
	_ = postCmd.MarkFlagRequired("ref")
	rootCmd.AddCommand(postCmd)
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	event := &relay.PostEvent{
		SourceNumericID: postSourceID,
		SourceHandle:    postHandle,
		MessageRef:      postRef,
		ReceivedAtMs:    time.Now().UnixMilli(),
	}
	if err := event.Validate(); err != nil {
		return printer.Error("invalid post", err.Error(), []string{"Pass --source-id, --handle, or both"})
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := connectRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.PublishPost(ctx, event); err != nil {
		return err
	}
	printer.Success("Post %s published to instance '%s'\n", event.MessageRef, cfg.Instance)
	return nil
}
