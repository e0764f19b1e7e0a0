// Package settlement decides the outcome of a lot once its auction ended.
package settlement

import (
	"github.com/honeynil/charity-auction/internal/models"
)

type Resolution struct {
	// Winner is nil when the lot received no bids.
	Winner *models.Bid
	// Refunds lists losing bids whose held funds were not returned yet.
	Refunds []models.Bid
}

func (r Resolution) Sold() bool { return r.Winner != nil }

func (r Resolution) Status() models.LotStatus {
	if r.Sold() {
		return models.LotSold
	}
	return models.LotNotSold
}

// Resolve picks the highest bid as the winner, the earliest one on equal
// amounts, and returns every other bid that still holds funds. refunded
// reports whether a bid was already refunded, usually when it was outbid.
func Resolve(bids []models.Bid, refunded func(bidID int64) bool) Resolution {
	var res Resolution
	if len(bids) == 0 {
		return res
	}

	winner := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(winner.Amount) || (b.Amount.Equal(winner.Amount) && b.ID < winner.ID) {
			winner = b
		}
	}
	res.Winner = &winner

	for _, b := range bids {
		if b.ID == winner.ID || refunded(b.ID) {
			continue
		}
		res.Refunds = append(res.Refunds, b)
	}
	return res
}
