package store

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jensholdgaard/auction-house/internal/auction"
)

// Query selects auctions. Zero fields impose no constraint; set fields are
// ANDed together.
type Query struct {
	CreatorID        string
	ExcludeCreatorID string
	// ParticipantID matches auctions created or bought by the user.
	ParticipantID string
	// Statuses are effective statuses evaluated at Now.
	Statuses []auction.Status
	Now      time.Time
	// UnreturnedStake limits to auctions whose stake has not been handed
	// back.
	UnreturnedStake bool
	Sport           string
	Game            string
	// GameDay matches the UTC calendar day of the game.
	GameDay time.Time
	Limit   int
}

// Matches reports whether rec satisfies q. SQL drivers express the same
// predicate through Where.
func (q Query) Matches(rec auction.Record) bool {
	if q.CreatorID != "" && rec.CreatorID != q.CreatorID {
		return false
	}
	if q.ExcludeCreatorID != "" && rec.CreatorID == q.ExcludeCreatorID {
		return false
	}
	if q.ParticipantID != "" && !rec.Involves(q.ParticipantID) {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, rec.EffectiveStatus(q.Now)) {
		return false
	}
	if q.UnreturnedStake && rec.StakeReturned {
		return false
	}
	if q.Sport != "" && !strings.EqualFold(rec.Sport, q.Sport) {
		return false
	}
	if q.Game != "" && rec.Game != q.Game {
		return false
	}
	if !q.GameDay.IsZero() && !sameDay(rec.GameDate, q.GameDay) {
		return false
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Where renders q as a Postgres WHERE clause (without the keyword) with
// positional parameters starting at $1, plus an ORDER BY/LIMIT suffix.
func (q Query) Where() (where string, suffix string, args []any) {
	var conds []string
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.CreatorID != "" {
		conds = append(conds, "creator_id = "+arg(q.CreatorID))
	}
	if q.ExcludeCreatorID != "" {
		conds = append(conds, "creator_id <> "+arg(q.ExcludeCreatorID))
	}
	if q.ParticipantID != "" {
		p := arg(q.ParticipantID)
		conds = append(conds, fmt.Sprintf("(creator_id = %s OR buyer_id = %s)", p, p))
	}
	if len(q.Statuses) > 0 {
		var ors []string
		for _, st := range q.Statuses {
			switch st {
			case auction.StatusOpen:
				ors = append(ors, "(status = 'open' AND expires_at > "+arg(q.Now)+")")
			case auction.StatusExpired:
				ors = append(ors, "(status = 'open' AND expires_at <= "+arg(q.Now)+")")
			default:
				ors = append(ors, "status = "+arg(string(st)))
			}
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	if q.UnreturnedStake {
		conds = append(conds, "NOT stake_returned")
	}
	if q.Sport != "" {
		conds = append(conds, "lower(sport) = lower("+arg(q.Sport)+")")
	}
	if q.Game != "" {
		conds = append(conds, "game = "+arg(q.Game))
	}
	if !q.GameDay.IsZero() {
		start := dayStart(q.GameDay)
		conds = append(conds, fmt.Sprintf("game_date >= %s AND game_date < %s", arg(start), arg(start.AddDate(0, 0, 1))))
	}

	where = "TRUE"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}
	suffix = " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		suffix += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return where, suffix, args
}
