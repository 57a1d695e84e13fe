package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/chanrelay/internal/filter"
	"github.com/dyluth/chanrelay/internal/printer"
	"github.com/dyluth/chanrelay/internal/timespec"
	"github.com/dyluth/chanrelay/internal/watch"
)

var (
	watchOutputFormat string
	watchSince        string
	watchDestination  string
	watchOperator     string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream forwards and command replies",
	Long: `Stream forward instructions and operator command replies as relayd
produces them.

With --since, forwards recorded in the history log are replayed first
(the log is kept by the redis gateway).

Output Formats:
  default - Human-readable lines
  json    - Line-delimited JSON

Examples:
  chanrelay watch
  chanrelay watch --since 10m --destination '@news*'
  chanrelay watch --operator 42 --output=json`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchSince, "since", "", "Replay forwards after time (duration or RFC3339)")
	watchCmd.Flags().StringVar(&watchDestination, "destination", "", "Only forwards to destinations matching this glob")
	watchCmd.Flags().StringVar(&watchOperator, "operator", "", "Only replies to this operator")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "json":
		format = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	sinceMS, _, err := timespec.ParseRange(watchSince, "")
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use duration format like '10m' or RFC3339 like '2026-10-16T13:00:00Z'"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := connectRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	criteria := &filter.Criteria{
		SinceTimestampMs: sinceMS,
		DestinationGlob:  watchDestination,
		OperatorID:       watchOperator,
	}
	return watch.StreamActivity(ctx, client, format, criteria, cmd.OutOrStdout())
}
