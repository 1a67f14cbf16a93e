package client

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// newPendingCommand constructs the `pending` command.
func newPendingCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List delivered but unacknowledged entries of a consumer group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			group, _ := cmd.Flags().GetString("group")
			q := url.Values{"topic": {topic}, "group": {group}}
			return doJSON(cmd, http.MethodGet, baseURL()+"/v1/streams/pending?"+q.Encode(), nil, nil)
		},
	}
	cmd.Flags().String("topic", "", "Topic name")
	cmd.Flags().String("group", "", "Consumer group")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

// newDLQCommand constructs the `dlq` command.
func newDLQCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List dead-lettered entries of a topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			start, _ := cmd.Flags().GetString("start")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{"topic": {topic}}
			if start != "" {
				q.Set("start", start)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			return doJSON(cmd, http.MethodGet, baseURL()+"/v1/streams/dlq?"+q.Encode(), nil, nil)
		},
	}
	cmd.Flags().String("topic", "", "Topic whose dead-letter stream to read")
	cmd.Flags().String("start", "", "Entry id to start from (inclusive)")
	cmd.Flags().Int("limit", 0, "Maximum entries (server default 100)")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}
