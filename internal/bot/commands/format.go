package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/ledger"
	"github.com/jensholdgaard/auction-house/internal/pricing"
)

// maxListed caps how many auctions a single reply lists.
const maxListed = 15

func money(d decimal.Decimal, cur auction.Currency) string {
	return fmt.Sprintf("%s %s", d.Round(pricing.StakePlaces).String(), cur)
}

// shortID is enough of an auction id to recognise it in a list.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// describe renders rec from viewer's side of the bet.
func describe(rec auction.Record, viewer string, now time.Time) string {
	role := pricing.Buyer
	cond := rec.Condition.Opposite()
	if rec.CreatorID == viewer {
		role, cond = pricing.Creator, rec.Condition
	}

	var b strings.Builder
	fmt.Fprintf(&b, "`%s` **%s** %s %g %s | %s (%s, %s)",
		rec.ID, rec.Player, cond, rec.PredictedValue, rec.Metric,
		rec.Game, strings.ToUpper(rec.Sport), rec.GameDate.UTC().Format("Jan 2 15:04 MST"))

	if q, err := pricing.QuoteFor(rec.Stake, rec.Multiplier, role); err == nil {
		fmt.Fprintf(&b, "\n  risk %s to win %s at %sx (%s)",
			money(q.Risk, rec.Currency), money(q.Pot, rec.Currency), q.Multiplier.StringFixed(pricing.DisplayPlaces), q.Odds)
		if q.HighRisk {
			b.WriteString(" :warning: high risk")
		}
	}
	b.WriteString("\n  ")
	b.WriteString(statusLine(rec, viewer, now))
	return b.String()
}

func statusLine(rec auction.Record, viewer string, now time.Time) string {
	switch rec.Status {
	case auction.StatusOpen:
		return fmt.Sprintf("open, expires in %s", rec.ExpiresAt.Sub(now).Round(time.Minute))
	case auction.StatusSold:
		return fmt.Sprintf("sold to <@%s>, game %s", rec.BuyerID, rec.GameStatus)
	case auction.StatusCompleted:
		result := "lost"
		if rec.WinnerID == viewer {
			result = "won"
		}
		actual := ""
		if rec.ActualValue != nil {
			actual = fmt.Sprintf(" (actual %g)", *rec.ActualValue)
		}
		return fmt.Sprintf("completed, you %s%s", result, actual)
	case auction.StatusRefunded:
		return "refunded: " + rec.RefundReason
	case auction.StatusExpired:
		if rec.StakeReturned {
			return "expired unsold, stake returned"
		}
		return "expired unsold"
	}
	return string(rec.Status)
}

func list(title string, recs []auction.Record, viewer string, now time.Time) string {
	if len(recs) == 0 {
		return title + ": nothing here."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%d)\n", title, len(recs))
	for i, rec := range recs {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more", len(recs)-maxListed)
			break
		}
		b.WriteString(describe(rec, viewer, now))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func balanceLine(b auction.Balance) string {
	return fmt.Sprintf("%s | %s", money(b.Standard, auction.Standard), money(b.Premium, auction.Premium))
}

// failure renders err for the user who asked for action.
func failure(action string, err error) string {
	switch {
	case errors.Is(err, auction.ErrNetwork):
		return action + " failed: the auction house is unreachable, please try again shortly."
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		return "You already claimed your daily allowance today."
	}
	var rej *auction.Rejection
	if errors.As(err, &rej) && rej.Reason != "" {
		return fmt.Sprintf("%s failed: %s.", action, rej.Reason)
	}
	var verr *auction.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("%s failed: %s.", action, strings.Join(verr.Problems, "; "))
	}
	return fmt.Sprintf("%s failed: %s.", action, err)
}
