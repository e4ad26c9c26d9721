package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "send [message]",
		Short: "サーバーにテスト送信を要求する",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := ctx.transport(cmd.Context())
			if err != nil {
				return err
			}

			var message *string
			if len(args) > 0 {
				joined := strings.Join(args, " ")
				message = &joined
			}
			if err := transport.SendWebPush(cmd.Context(), message); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "送信を要求しました")
			return nil
		},
	}
}
