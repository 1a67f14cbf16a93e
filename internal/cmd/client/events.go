package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// newPublishCommand constructs the `publish` command.
func newPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to a topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			eventType, _ := cmd.Flags().GetString("type")
			source, _ := cmd.Flags().GetString("source")
			data, _ := cmd.Flags().GetString("data")
			key, _ := cmd.Flags().GetString("idempotency-key")

			payload := map[string]any{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("invalid --data; expected a JSON object: %w", err)
				}
			}
			var header http.Header
			if key != "" {
				header = http.Header{"Idempotency-Key": {key}}
			}
			body := map[string]any{"topic": topic, "type": eventType, "source": source, "data": payload}
			return doJSON(cmd, http.MethodPost, baseURL()+"/v1/events/publish", body, header)
		},
	}
	cmd.Flags().String("topic", "", "Destination topic")
	cmd.Flags().String("type", "", "Event type, e.g. finbot.transaction.created")
	cmd.Flags().String("source", "", "Producing module, e.g. finbot")
	cmd.Flags().String("data", "{}", "Event payload as a JSON object")
	cmd.Flags().String("idempotency-key", "", "Idempotency-Key header; repeated keys replay the first response")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
