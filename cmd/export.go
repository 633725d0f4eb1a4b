package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/headless"
)

func newExportCmd() *cobra.Command {
	var outDir string
	var withPNG bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the map page (and a PNG screenshot) to disk and to the blob store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()
			svc := appInstance.Service()

			d, err := svc.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			page, err := svc.RenderMap(d)
			if err != nil {
				return err
			}
			htmlPath := filepath.Join(outDir, "carte_secheresse.html")
			if err := os.WriteFile(htmlPath, page, 0o644); err != nil {
				return fmt.Errorf("write map: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), htmlPath)

			var png []byte
			if withPNG {
				png, err = svc.RenderPNG(cmd.Context(), d, appInstance.Renderer())
				switch {
				case errors.Is(err, headless.ErrDisabled):
					logger.Warn("PNG export skipped, headless rendering is disabled")
				case err != nil:
					return err
				default:
					pngPath := filepath.Join(outDir, "carte_secheresse.png")
					if err := os.WriteFile(pngPath, png, 0o644); err != nil {
						return fmt.Errorf("write png: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), pngPath)
				}
			}

			uris, err := svc.Export(cmd.Context(), d, png)
			if err != nil {
				return fmt.Errorf("archive export: %w", err)
			}
			logger.Info("map exported", zap.Any("blob_uris", uris))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&withPNG, "png", false, "also capture a PNG through headless Chrome")
	return cmd
}
