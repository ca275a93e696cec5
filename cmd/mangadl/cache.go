package cmd

import (
	"fmt"
	"strconv"

	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/utils"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the chapter cache",
}

var cacheSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Show the cache usage and capacity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openController(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		cc := c.Cache()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, styles.TitleStyle.Render("Chapter cache"))
		fmt.Fprintf(out, "Directory: %s\n", styles.SubtitleStyle.Render(cc.Dir()))
		fmt.Fprintf(out, "Used:      %s\n", cc.ReadableSize())
		fmt.Fprintf(out, "Capacity:  %s (preload %d)\n", utils.ReadableSize(cc.Capacity()), cc.PreloadSize())
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openController(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		reclaimed, files := c.Cache().Purge()
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files, %s reclaimed\n", files, utils.ReadableSize(reclaimed))
		return nil
	},
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "rm <file>...",
	Short: "Remove cache files by name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openController(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		removed := 0
		for _, name := range args {
			if c.Cache().RemoveFileFromCache(name) {
				removed++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d of %d files\n", removed, len(args))
		return nil
	},
}

var cacheResizeCmd = &cobra.Command{
	Use:   "resize <preload>",
	Short: "Size the cache for a number of preloaded chapters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid preload size %q: %w", args[0], err)
		}
		c, err := openController(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.SetPreloadSize(cmd.Context(), n); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cache capacity is now %s\n", utils.ReadableSize(c.Cache().Capacity()))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheSizeCmd, cacheClearCmd, cacheRemoveCmd, cacheResizeCmd)
}
