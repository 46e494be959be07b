package market

import (
	"fmt"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// View names one derived view of a viewer's auctions.
type View string

const (
	// ViewActive is the viewer's own open and sold auctions.
	ViewActive View = "active"
	// ViewMarket is everyone else's auctions that can still be bought.
	ViewMarket View = "market"
	// ViewPending is sold auctions the viewer is party to, awaiting outcome.
	ViewPending View = "pending"
	// ViewHistory is finished auctions the viewer took part in, including
	// ones that expired unsold.
	ViewHistory View = "history"
)

// Views lists every view.
var Views = []View{ViewActive, ViewMarket, ViewPending, ViewHistory}

// ParseView accepts a view name.
func ParseView(s string) (View, error) {
	for _, v := range Views {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// historyLimit caps how much history a refresh pulls.
const historyLimit = 100

// query is what the house is asked for when v is refreshed.
func (v View) query(viewer string) store.Query {
	switch v {
	case ViewActive:
		return store.Query{CreatorID: viewer, Statuses: []auction.Status{auction.StatusOpen, auction.StatusSold}}
	case ViewMarket:
		return store.Query{ExcludeCreatorID: viewer, Statuses: []auction.Status{auction.StatusOpen}}
	case ViewPending:
		return store.Query{ParticipantID: viewer, Statuses: []auction.Status{auction.StatusSold}}
	case ViewHistory:
		return store.Query{
			ParticipantID: viewer,
			Statuses:      []auction.Status{auction.StatusCompleted, auction.StatusRefunded, auction.StatusExpired},
			Limit:         historyLimit,
		}
	}
	return store.Query{}
}

// contains reports whether rec, as of its effective status, belongs in v
// for viewer. It is the local mirror of query.
func (v View) contains(viewer string, rec auction.Record) bool {
	switch v {
	case ViewActive:
		return rec.CreatorID == viewer && (rec.Status == auction.StatusOpen || rec.Status == auction.StatusSold)
	case ViewMarket:
		return rec.CreatorID != viewer && rec.Status == auction.StatusOpen && rec.BuyerID == ""
	case ViewPending:
		return rec.Status == auction.StatusSold && rec.Involves(viewer)
	case ViewHistory:
		return (rec.Status == auction.StatusCompleted || rec.Status == auction.StatusRefunded || rec.Status == auction.StatusExpired) &&
			rec.Involves(viewer)
	}
	return false
}
