package main

import (
	"fmt"

	"cadence/internal/config"
	"cadence/internal/intake"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <files|dirs...>",
	Short: "Check which files would be admitted to a playlist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Load()
		maxBytes := int64(settings.MaxUploadMB) << 20

		paths, err := intake.Expand(args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		rejected := 0
		for _, path := range paths {
			if err := intake.Validate(path, maxBytes); err != nil {
				rejected++
				fmt.Fprintf(out, "reject  %s: %v\n", path, err)
				continue
			}

			mediaType, _ := intake.MediaType(path)
			source := intake.Describe(path)
			fmt.Fprintf(out, "ok      %s (%s, %s)\n", path, mediaType, formatClock(source.Duration))
		}

		if rejected > 0 {
			return fmt.Errorf("%d of %d files rejected", rejected, len(paths))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
