package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/webpush/pkg/pushclient"
)

func newPermissionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "通知許可の状態を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := ctx.headlessBrowser().Permission(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), perm)
			return nil
		},
	}

	cmd.AddCommand(newSetPermissionCommand(ctx, "grant", "通知を許可する", pushclient.PermissionGranted))
	cmd.AddCommand(newSetPermissionCommand(ctx, "deny", "通知を拒否する", pushclient.PermissionDenied))
	cmd.AddCommand(newSetPermissionCommand(ctx, "reset", "通知許可を未選択に戻す", pushclient.PermissionDefault))
	return cmd
}

func newSetPermissionCommand(ctx *commandContext, use, short string, perm pushclient.Permission) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.headlessBrowser().SetPermission(cmd.Context(), perm); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "通知許可: %s\n", perm)
			return nil
		},
	}
}
