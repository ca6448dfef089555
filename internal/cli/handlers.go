package cli

import (
	"github.com/spf13/cobra"
)

// NewHandlersCmd создаёт команду списка handlers, зарегистрированных на сервере.
func NewHandlersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "handlers",
		Short: "List registered activity handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := clientFn().ListHandlers()
			if err != nil {
				return err
			}

			rows := make([][]string, len(list))
			for i, h := range list {
				rows[i] = []string{h.Name, h.Version, h.Description}
			}
			outputFn().Print([]string{"NAME", "VERSION", "DESCRIPTION"}, rows, list)
			return nil
		},
	}
}
