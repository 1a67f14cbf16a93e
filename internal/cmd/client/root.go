package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the client.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "eventbus",
		Short: "Event bus client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers every client command on root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		newPublishCommand(baseURL),
		newPendingCommand(baseURL),
		newDLQCommand(baseURL),
		newTokenCommand(),
		newHealthCommand(),
	)
}
