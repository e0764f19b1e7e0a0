package main

import (
	"github.com/spf13/cobra"

	service "github.com/honeynil/charity-auction/internal/services"
)

var auctionFlag int64

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle ended auctions",
	Long: `Settle every active auction whose end time has passed, or a single
auction with --auction. Running it twice is safe: settled auctions are
skipped.`,
	Args: cobra.NoArgs,
	RunE: runSettle,
}

func init() {
	settleCmd.Flags().Int64Var(&auctionFlag, "auction", 0, "settle only this auction id")
}

func runSettle(cmd *cobra.Command, _ []string) error {
	now, err := referenceTime()
	if err != nil {
		return err
	}

	return withSettlement(cmd.Context(), func(s service.SettlementService) error {
		if auctionFlag > 0 {
			settled, err := s.SettleAuction(cmd.Context(), auctionFlag, now)
			if err != nil {
				return err
			}
			if settled {
				cmd.Printf("auction %d settled\n", auctionFlag)
			} else {
				cmd.Printf("auction %d: nothing to settle\n", auctionFlag)
			}
			return nil
		}

		settled, err := s.SettleDue(cmd.Context(), now)
		cmd.Printf("settled %d auction(s)\n", settled)
		return err
	})
}
