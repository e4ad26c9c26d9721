package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newInboxCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "プッシュサービスに届いた通知を取り出して表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			notifications, err := ctx.headlessBrowser().Inbox(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(notifications) == 0 {
				fmt.Fprintln(out, "新しい通知はありません")
				return nil
			}

			rows := make([][]string, 0, len(notifications))
			for _, n := range notifications {
				title, body := n.Title, n.Body
				if n.Err != nil {
					title, body = "-", fmt.Sprintf("復号に失敗: %v", n.Err)
				}
				rows = append(rows, []string{
					n.ReceivedAt.Local().Format(time.DateTime),
					n.Urgency,
					title,
					body,
					n.URL,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"RECEIVED", "URGENCY", "TITLE", "BODY", "URL"}, rows))
			return nil
		},
	}
}
