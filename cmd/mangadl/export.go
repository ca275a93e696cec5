package cmd

import (
	"fmt"
	"strings"

	"github.com/kerbaras/mangadl/pkg/integrations"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <manga-id>",
	Short: "Export cached chapters to an EPUB",
	Long:  "Build an EPUB from every chapter of a manga whose pages are all cached",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("output")
		deviceID, _ := cmd.Flags().GetString("device")

		var opts []integrations.EPubOption
		if deviceID != "" {
			device, ok := integrations.LookupDevice(deviceID)
			if !ok {
				return fmt.Errorf("unknown device %q, use one of: %s", deviceID, strings.Join(integrations.DeviceIDs(), ", "))
			}
			opts = append(opts, integrations.WithDevice(device))
		}

		c, err := openController(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		path, err := c.Export(cmd.Context(), args[0], outDir, opts...)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "EPUB created: %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", ".", "Output directory")
	exportCmd.Flags().StringP("device", "d", "", "Resize pages for an e-reader (e.g. kindle-paperwhite)")
}
