package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/chanrelay/internal/printer"
	"github.com/dyluth/chanrelay/internal/watch"
	"github.com/dyluth/chanrelay/pkg/relay"
)

var (
	commandOperator string
	commandIntent   string
	commandText     string
	commandTimeout  time.Duration
)

var commandCmd = &cobra.Command{
	Use:   "command",
	Short: "Send an operator command and print the reply",
	Long: `Send one operator command to relayd's configuration session and wait
for the reply.

Intents:
  start, cancel, back
  select_add_collection, select_remove_collection, select_collection
  add_member, remove_member, set_destination, input
  list_collections, list_members, show_destination

Examples:
  chanrelay command --operator 42 --intent start
  chanrelay command --operator 42 --intent select_add_collection
  chanrelay command --operator 42 --intent input --text news`,
	RunE: runCommand,
}

func init() {
	commandCmd.Flags().StringVar(&commandOperator, "operator", "", "Operator id (required)")
	commandCmd.Flags().StringVar(&commandIntent, "intent", "", "Command intent (required)")
	commandCmd.Flags().StringVar(&commandText, "text", "", "Text payload")
	commandCmd.Flags().DurationVar(&commandTimeout, "timeout", 5*time.Second, "How long to wait for the reply")
	_ = commandCmd.MarkFlagRequired("operator")
	_ = commandCmd.MarkFlagRequired("intent")
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	command := &relay.OperatorCommand{
		OperatorID:  commandOperator,
		Intent:      relay.Intent(commandIntent),
		TextPayload: commandText,
		RequestID:   uuid.New().String(),
	}
	if err := command.Validate(); err != nil {
		return printer.Error("invalid command", err.Error(), []string{"See the intent list:\n  chanrelay command --help"})
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

	// Subscribe first so the reply cannot arrive before we listen.
	replies, err := client.SubscribeReplies(ctx)
	if err != nil {
		return err
	}
	defer replies.Close()

	if err := client.PublishCommand(ctx, command); err != nil {
		return err
	}

	reply, err := watch.AwaitReply(ctx, replies, command.RequestID, commandTimeout)
	if err != nil {
		return printer.ErrorWithContext(
			"no reply",
			err.Error(),
			map[string]string{"Instance": cfg.Instance, "Request": command.RequestID},
			[]string{"Check that relayd is running for this instance"},
		)
	}

	printer.Reply(cmd.OutOrStdout(), reply)
	return nil
}
