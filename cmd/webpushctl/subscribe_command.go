package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/webpush/pkg/pushclient"
)

func newSubscribeCommand(ctx *commandContext) *cobra.Command {
	var applicationServerKey string

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "通知が許可されていればサービスワーカーを登録してサブスクリプションを作成する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client(cmd.Context(), applicationServerKey)
			if err != nil {
				return err
			}

			result, err := client.CheckPermissionStateAndAct(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Permission != pushclient.PermissionGranted {
				fmt.Fprintf(out, "通知が許可されていないため何もしませんでした (permission=%s)\n", result.Permission)
				return nil
			}
			fmt.Fprintf(out, "サブスクリプションを登録しました: %s\n", result.Subscription.Endpoint)
			return nil
		},
	}

	cmd.Flags().StringVar(&applicationServerKey, "application-server-key", "", "VAPID公開鍵（省略時はサーバーから取得）")
	return cmd
}

func newUnsubscribeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe",
		Short: "サブスクリプションを解除してサーバーから削除する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client(cmd.Context(), pushclient.DefaultApplicationServerKey)
			if err != nil {
				return err
			}

			ok, err := client.Unsubscribe(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "解除するサブスクリプションがありません")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "サブスクリプションを解除しました")
			return nil
		},
	}
}
