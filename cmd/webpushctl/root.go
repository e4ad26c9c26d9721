package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	ctx := newCommandContext(opts)

	rootCmd := &cobra.Command{
		Use:           "webpushctl",
		Short:         "Web Pushのクライアント側フローをヘッドレスブラウザで実行する",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.profile, "profile", defaultProfilePath(), "ヘッドレスブラウザのプロファイル（TOML）")
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "Web PushサーバーのURL")
	flags.StringVar(&opts.pushService, "push-service", "http://localhost:8090", "開発用プッシュサービスのURL")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "ログレベル（debug, info, warn, error）")

	rootCmd.AddCommand(newPermissionCommand(ctx))
	rootCmd.AddCommand(newSubscribeCommand(ctx))
	rootCmd.AddCommand(newUnsubscribeCommand(ctx))
	rootCmd.AddCommand(newSendCommand(ctx))
	rootCmd.AddCommand(newInboxCommand(ctx))
	rootCmd.AddCommand(newVAPIDKeysCommand())

	return rootCmd
}
