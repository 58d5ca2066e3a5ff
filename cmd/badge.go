package cmd

import (
	"fmt"
	"net/url"

	qrgen "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/hostbooth/gatescan/internal/checkin"
	"github.com/hostbooth/gatescan/internal/config"
)

func badgeCmd() *cobra.Command {
	var (
		out  string
		size int
		bare bool
	)

	cmd := &cobra.Command{
		Use:   "badge CODE",
		Short: "Generate a printable QR badge for a check-in code",
		Long: "Encodes a check-in code as a QR PNG. By default the QR carries the\n" +
			"shareable deep link; --bare encodes just the code for minimal QR\n" +
			"density. Both forms are accepted by the scanner.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := checkin.ParseCode(args[0])
			if err != nil {
				return fmt.Errorf("%q is not a valid check-in code (4-10 alphanumeric characters)", args[0])
			}

			content := string(code)
			if !bare {
				cfg, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				if cfg.API.BaseURL == "" {
					return fmt.Errorf("api.base_url must be configured to build a deep link (or use --bare)")
				}
				content = fmt.Sprintf("%s/checkin?code=%s", cfg.API.BaseURL, url.QueryEscape(string(code)))
			}

			if err := qrgen.WriteFile(content, qrgen.Medium, size, out); err != nil {
				return fmt.Errorf("write badge: %w", err)
			}

			fmt.Printf("badge written to %s (%s)\n", out, content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "badge.png", "output PNG path")
	cmd.Flags().IntVar(&size, "size", 512, "image size in pixels")
	cmd.Flags().BoolVar(&bare, "bare", false, "encode the bare code instead of a deep link")
	return cmd
}
