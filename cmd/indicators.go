package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/render"
)

func newIndicatorsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "indicators",
		Short: "Download the datasets and print the indicator table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d, err := appInstance.Service().Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			if d.Indicators == nil {
				return fmt.Errorf("indicators unavailable: %w", d.ArchiveErr)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(d.Indicators); err != nil {
					return fmt.Errorf("encode indicators: %w", err)
				}
				return nil
			}
			return render.WriteTable(out, *d.Indicators)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
