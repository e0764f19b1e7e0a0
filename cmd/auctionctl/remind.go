package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	service "github.com/honeynil/charity-auction/internal/services"
)

var windowFlag time.Duration

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Remind bidders of auctions ending soon",
	Args:  cobra.NoArgs,
	RunE:  runRemind,
}

func init() {
	remindCmd.Flags().DurationVar(&windowFlag, "window", 24*time.Hour, "remind about auctions ending within this window")
}

func runRemind(cmd *cobra.Command, _ []string) error {
	if windowFlag <= 0 {
		return fmt.Errorf("--window must be positive")
	}
	now, err := referenceTime()
	if err != nil {
		return err
	}

	return withSettlement(cmd.Context(), func(s service.SettlementService) error {
		sent, err := s.NotifyEndingSoon(cmd.Context(), now, windowFlag)
		cmd.Printf("sent %d reminder(s)\n", sent)
		return err
	})
}
