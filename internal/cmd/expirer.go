package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

var expirerCmd = &cobra.Command{
	Use:   "expirer",
	Short: "Run only the expirer loop (removes expired composes and orphaned directories)",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()
		ctx := cmd.Context()

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		u.Header("odcsd expirer running")
		err = rt.expirer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
