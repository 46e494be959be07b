package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/market"
	"github.com/jensholdgaard/auction-house/internal/pricing"
)

// Create lists a new auction for userID.
func (h *Handlers) Create(ctx context.Context, userID string, req auction.Request) string {
	bal, err := h.house.UserBalance(ctx, userID)
	if err != nil {
		return failure("Creating the auction", err)
	}
	rec, err := h.sessions.Get(userID).Coordinator.Create(ctx, userID, req, bal)
	if err != nil {
		return failure("Creating the auction", err)
	}
	return "Auction listed:\n" + describe(rec, userID, h.clock.Now())
}

// Search lists auctions userID could buy that match f.
func (h *Handlers) Search(ctx context.Context, userID string, f market.Filter) string {
	sess := h.sessions.Get(userID)
	if err := sess.Store.Refresh(ctx, market.ViewMarket); err != nil {
		return failure("Searching", err)
	}
	sess.Store.SetFilter(f)
	return list("Market", sess.Store.Snapshot(market.ViewMarket), userID, h.clock.Now())
}

// Buy purchases auctionID for userID.
func (h *Handlers) Buy(ctx context.Context, userID, auctionID string) string {
	sess := h.sessions.Get(userID)
	auctionID = h.resolveID(ctx, sess, auctionID)

	bal, err := h.house.UserBalance(ctx, userID)
	if err != nil {
		return failure("Buying", err)
	}
	rec, err := sess.Coordinator.Buy(ctx, auctionID, userID, bal)
	if err != nil {
		if rej := auction.AsRejection(err); rej.Auction != nil && rej.Auction.BuyerID != "" {
			if rej.Auction.BuyerID == userID {
				return fmt.Sprintf("You already own `%s`.", auctionID)
			}
			return fmt.Sprintf("Too late: <@%s> bought `%s` first.", rej.Auction.BuyerID, auctionID)
		}
		return failure("Buying", err)
	}
	return "You bought:\n" + describe(rec, userID, h.clock.Now())
}

// resolveID finds the auction a possibly shortened id refers to, refreshing
// the market when it is not known locally.
func (h *Handlers) resolveID(ctx context.Context, sess *Session, id string) string {
	if _, ok := sess.Store.Lookup(id); ok {
		return id
	}
	if err := sess.Store.Refresh(ctx, market.ViewMarket); err != nil {
		h.logger.WarnContext(ctx, "market refresh before buy", slog.Any("error", err))
	}
	if _, ok := sess.Store.Lookup(id); ok {
		return id
	}
	var match string
	for _, rec := range sess.Store.Search(market.Filter{}) {
		if strings.HasPrefix(rec.ID, id) {
			if match != "" {
				return id
			}
			match = rec.ID
		}
	}
	if match == "" {
		return id
	}
	return match
}

// View lists one of userID's views. Pending is split by the side the user
// holds.
func (h *Handlers) View(ctx context.Context, userID string, v market.View) string {
	sess := h.sessions.Get(userID)
	if err := sess.Store.Refresh(ctx, v); err != nil {
		return failure("Loading "+string(v), err)
	}
	now := h.clock.Now()
	switch v {
	case market.ViewActive:
		return list("Your auctions", sess.Store.Snapshot(v), userID, now)
	case market.ViewPending:
		return list("Pending, you created", sess.Store.Pending(pricing.Creator), userID, now) + "\n\n" +
			list("Pending, you bought", sess.Store.Pending(pricing.Buyer), userID, now)
	case market.ViewHistory:
		return list("History", sess.Store.Snapshot(v), userID, now)
	}
	return list("Market", sess.Store.Snapshot(v), userID, now)
}

// Balance reports userID's holdings.
func (h *Handlers) Balance(ctx context.Context, userID string) string {
	bal, err := h.house.UserBalance(ctx, userID)
	if err != nil {
		return failure("Checking your balance", err)
	}
	return "Balance: " + balanceLine(bal)
}

// Daily claims userID's daily allowance.
func (h *Handlers) Daily(ctx context.Context, userID string) string {
	bal, err := h.house.ClaimDailyAllowance(ctx, userID)
	if err != nil {
		return failure("Claiming", err)
	}
	return "Daily allowance claimed. Balance: " + balanceLine(bal)
}

// Quote shows both sides of a hypothetical bet.
func (h *Handlers) Quote(stake, multiplier decimal.Decimal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stake %s at %sx\n", stake.String(), multiplier.String())
	for _, role := range []pricing.Role{pricing.Creator, pricing.Buyer} {
		q, err := pricing.QuoteFor(stake, multiplier, role)
		if err != nil {
			return failure("Quoting", err)
		}
		fmt.Fprintf(&b, "%s: risk %s to win %s (profit %s) at %sx, %s",
			role, q.Risk.String(), q.Pot.String(), q.Profit.String(), q.Multiplier.StringFixed(pricing.DisplayPlaces), q.Odds)
		if q.HighRisk {
			b.WriteString(" :warning: high risk")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Grant credits targetID on behalf of adminID.
func (h *Handlers) Grant(ctx context.Context, adminID, targetID string, cur auction.Currency, amount decimal.Decimal, reason string) string {
	if !slices.Contains(h.admins, adminID) {
		return "Only admins can grant balance."
	}
	bal, err := h.house.Grant(ctx, adminID, targetID, cur, amount, reason)
	if err != nil {
		return failure("Granting", err)
	}
	return fmt.Sprintf("Granted %s to <@%s>. Their balance: %s", money(amount, cur), targetID, balanceLine(bal))
}
