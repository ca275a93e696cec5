package cmd

import (
	"fmt"

	"github.com/kerbaras/mangadl/pkg/app/components"
	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/download"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the persisted download queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued chapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openController(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if c.Store() == nil {
			return fmt.Errorf("the %s store does not persist the queue", cfg.Store)
		}
		entries, err := c.Store().List(cmd.Context())
		if err != nil {
			return err
		}
		downloads := make([]*download.Download, 0, len(entries))
		for _, e := range entries {
			downloads = append(downloads, e.Download())
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, styles.TitleStyle.Render(fmt.Sprintf("Queue (%d chapters)", len(downloads))))
		fmt.Fprintln(out, components.QueueTable(components.RowsFor(downloads)))
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <chapter-id>...",
	Short: "Remove chapters from the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openController(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Restore(cmd.Context()); err != nil {
			return err
		}
		removed := c.Queue().RemoveChapters(args)
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d of %d chapters\n", removed, len(args))
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every chapter from the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openController(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		n, err := c.Restore(cmd.Context())
		if err != nil {
			return err
		}
		c.Queue().Clear()
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d chapters\n", n)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd, queueRemoveCmd, queueClearCmd)
}
