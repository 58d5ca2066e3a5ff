package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hostbooth/gatescan/internal/checkin"
	"github.com/hostbooth/gatescan/internal/config"
)

var (
	redeemOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	redeemFail = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func redeemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redeem CODE",
		Short: "Redeem a check-in code directly (headless manual entry)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if cfg.Event.ID == "" || cfg.API.BaseURL == "" {
				return fmt.Errorf("event.id and api.base_url must be configured in %s", flagConfig)
			}

			code, err := checkin.ParseCode(args[0])
			if err != nil {
				return fmt.Errorf("%q is not a valid check-in code (4-10 alphanumeric characters)", args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout())
			defer cancel()

			redeemer := checkin.NewAPIRedeemer(cfg.API, cfg.Event.ID)
			result, err := redeemer.Redeem(ctx, code)
			if err != nil {
				var rerr *checkin.RedemptionError
				if errors.As(err, &rerr) {
					fmt.Println(redeemFail.Render("✗ " + rerr.Reason))
					return fmt.Errorf("check-in rejected")
				}
				return err
			}

			fmt.Println(redeemOK.Render(fmt.Sprintf("✓ %s 簽到成功！", result.AttendeeName)))
			return nil
		},
	}
}
