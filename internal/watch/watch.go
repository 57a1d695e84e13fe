// Package watch streams relay activity to a terminal or a JSON pipe.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/chanrelay/internal/filter"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	// OutputFormatDefault is one human-readable line per event.
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSON is line-delimited JSON.
	OutputFormatJSON OutputFormat = "json"
)

// Event is the JSON shape of one streamed item.
type Event struct {
	Event   string                    `json:"event"` // forward or reply
	Forward *relay.ForwardInstruction `json:"forward,omitempty"`
	Reply   *relay.CommandReply       `json:"reply,omitempty"`
}

// StreamActivity writes forward instructions and command replies until ctx is
// cancelled. With a since filter the recorded forward history is replayed first.
func StreamActivity(ctx context.Context, client *relay.Client, format OutputFormat, criteria *filter.Criteria, w io.Writer) error {
	if criteria == nil {
		criteria = &filter.Criteria{}
	}

	// Subscribe before replaying history so nothing falls in between.
	forwards, err := client.SubscribeForwardEvents(ctx)
	if err != nil {
		return err
	}
	defer forwards.Close()

	replies, err := client.SubscribeReplies(ctx)
	if err != nil {
		return err
	}
	defer replies.Close()

	if criteria.SinceTimestampMs > 0 {
		history, err := client.ForwardsSince(ctx, criteria.SinceTimestampMs)
		if err != nil {
			return fmt.Errorf("failed to load forward history: %w", err)
		}
		for _, instr := range history {
			if criteria.MatchesForward(instr) {
				if err := writeEvent(w, format, &Event{Event: "forward", Forward: instr}); err != nil {
					return err
				}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case instr, ok := <-forwards.Events():
			if !ok {
				return nil
			}
			if criteria.MatchesForward(instr) {
				if err := writeEvent(w, format, &Event{Event: "forward", Forward: instr}); err != nil {
					return err
				}
			}

		case reply, ok := <-replies.Events():
			if !ok {
				return nil
			}
			if criteria.MatchesReply(reply) {
				if err := writeEvent(w, format, &Event{Event: "reply", Reply: reply}); err != nil {
					return err
				}
			}

		case err, ok := <-forwards.Errors():
			if ok {
				fmt.Fprintf(w, "⚠️  %v\n", err)
			}
		case err, ok := <-replies.Errors():
			if ok {
				fmt.Fprintf(w, "⚠️  %v\n", err)
			}
		}
	}
}

func writeEvent(w io.Writer, format OutputFormat, ev *Event) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	var line string
	if ev.Forward != nil {
		line = FormatForward(ev.Forward)
	} else {
		line = FormatReply(ev.Reply)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// FormatForward renders a forward instruction as one line.
func FormatForward(instr *relay.ForwardInstruction) string {
	return fmt.Sprintf("[%s] ➡️  Forward: %d → %s (message %s)",
		clock(instr.IssuedAtMs), instr.SourceNumericID, instr.Destination, instr.MessageRef)
}

// FormatReply renders a command reply as one line.
func FormatReply(reply *relay.CommandReply) string {
	icon := "💬"
	switch reply.Outcome {
	case relay.OutcomeOK:
		icon = "✅"
	case relay.OutcomeError:
		icon = "❌"
	case relay.OutcomeUnexpectedInput, relay.OutcomeInvalidInput:
		icon = "⚠️ "
	}
	return fmt.Sprintf("[%s] %s Reply to %s: %s [%s, %s]",
		clock(reply.AtMs), icon, reply.OperatorID, reply.Message, reply.Outcome, reply.State)
}

func clock(ms int64) string {
	if ms == 0 {
		return "--:--:--"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}

// AwaitReply waits on sub for the reply carrying requestID.
func AwaitReply(ctx context.Context, sub *relay.Subscription[relay.CommandReply], requestID string, timeout time.Duration) (*relay.CommandReply, error) {
	timeoutCh := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for reply after %v", timeout)

		case reply, ok := <-sub.Events():
			if !ok {
				return nil, fmt.Errorf("reply subscription closed")
			}
			if reply.RequestID == requestID {
				return reply, nil
			}
		}
	}
}
