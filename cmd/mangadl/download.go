package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/kerbaras/mangadl/pkg/app"
	"github.com/kerbaras/mangadl/pkg/app/components"
	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/services"
	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download [manifest.json]",
	Short: "Download queued chapters",
	Long: "Queue the chapters of a manifest and download every queued chapter.\n" +
		"Chapters left over from an interrupted run are restored first.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("concurrency") {
			cfg.Concurrency, _ = flags.GetInt("concurrency")
		}
		keep, _ := flags.GetBool("keep-completed")
		watch, _ := flags.GetBool("watch")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := openController(ctx, services.WithKeepCompleted(keep))
		if err != nil {
			return err
		}
		defer c.Close()

		if flags.Changed("preload") {
			n, _ := flags.GetInt("preload")
			if err := c.SetPreloadSize(ctx, n); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		restored, err := c.Restore(ctx)
		if err != nil {
			return err
		}
		if restored > 0 {
			fmt.Fprintf(out, "Restored %d queued chapters\n", restored)
		}
		if len(args) == 1 {
			m, err := services.LoadManifest(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Queued %d chapters of %s\n", c.Enqueue(ctx, m), m.Manga.Name)
		}
		if c.Queue().Len() == 0 {
			fmt.Fprintln(out, styles.MutedStyle.Render("Nothing to download"))
			return nil
		}

		tracker := components.NewProgressTracker(60)
		c.Queue().AddListener(tracker)

		var summary services.Summary
		if watch {
			summary, err = app.NewApp(tracker, c.Run).Run(ctx)
		} else {
			tracker.WithStatusLines(out)
			summary, err = c.Run(ctx)
			fmt.Fprint(out, tracker.View())
		}

		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "Stopped, %d chapters stay queued\n", c.Queue().Len())
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", styles.StatusCompleted.Render(fmt.Sprintf("%d chapters downloaded", summary.Completed)),
			styles.MutedStyle.Render("cache: "+c.Cache().ReadableSize()))
		return summary.Err()
	},
}

func init() {
	downloadCmd.Flags().Int("preload", 0, "Chapters to keep cached ahead; resizes and persists the cache size")
	downloadCmd.Flags().IntP("concurrency", "c", 0, "Chapters downloaded at once")
	downloadCmd.Flags().Bool("keep-completed", false, "Keep downloaded chapters in the queue")
	downloadCmd.Flags().Bool("watch", false, "Show a live progress view")
}
