package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// StepPrinterFunc returns a watermill handler that renders a chat event
// stream as it arrives: text deltas are written incrementally, thinking is
// bracketed by markers, tool activity is dumped as YAML.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventError:
			_, err = fmt.Fprintf(w, "\nerror: %s\n", p_.ErrorString)
			if err != nil {
				return err
			}

		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				_, err = fmt.Fprintf(w, "\n%s: \n", name)
				if err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(w, "%s", p_.Delta)
			if err != nil {
				return err
			}

		case *EventThinkingStart:
			_, err = fmt.Fprintf(w, "\n--- Thinking started ---\n")
			if err != nil {
				return err
			}

		case *EventThinkingPartial:
			_, err = fmt.Fprintf(w, "%s", p_.Delta)
			if err != nil {
				return err
			}

		case *EventThinkingFinal:
			marker := "\n--- Thinking ended ---\n"
			if p_.Status == ThinkingStatusUnavailable {
				marker = "\n--- Thinking ended (text unavailable) ---\n"
			}
			_, err = fmt.Fprint(w, marker)
			if err != nil {
				return err
			}

		case *EventFinal:
			if !strings.HasSuffix(p_.Text, "\n") {
				_, err = fmt.Fprintf(w, "\n")
				if err != nil {
					return err
				}
			}

		case *EventInterrupt:
			_, err = fmt.Fprintf(w, "\n[interrupted]\n")
			if err != nil {
				return err
			}

		case *EventToolCall:
			v_, err := yaml.Marshal(p_.ToolCall)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "\n%s\n", v_)
			if err != nil {
				return err
			}

		case *EventToolCallExecutionResult:
			v_, err := yaml.Marshal(p_.ToolResult)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "%s\n", v_)
			if err != nil {
				return err
			}
		}

		return nil
	}
}
