package market

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jensholdgaard/auction-house/internal/auction"
)

// Filter narrows the market view. Empty fields impose no constraint; set
// fields are ANDed together.
type Filter struct {
	Sport string `json:"sport,omitempty"`
	// Date matches the civil date of the game in Location (UTC if nil).
	Date     time.Time      `json:"date,omitempty"`
	Location *time.Location `json:"-"`
	// Team and Player match substrings, ignoring case and diacritics.
	Team   string `json:"team,omitempty"`
	Player string `json:"player,omitempty"`
	// Metric matches exactly, ignoring case and diacritics.
	Metric string `json:"metric,omitempty"`
}

// IsZero reports whether f matches everything.
func (f Filter) IsZero() bool {
	return f.Sport == "" && f.Date.IsZero() && f.Team == "" && f.Player == "" && f.Metric == ""
}

// fold lowercases s and strips combining marks, so "Dončić" matches
// "doncic". A transformer is not safe for concurrent use, hence one per call.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func civilDate(t time.Time, loc *time.Location) (int, time.Month, int) {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Date()
}

// Matches reports whether rec passes f.
func (f Filter) Matches(rec auction.Record) bool {
	if f.Sport != "" && !strings.EqualFold(strings.TrimSpace(f.Sport), rec.Sport) {
		return false
	}
	if !f.Date.IsZero() {
		fy, fm, fd := civilDate(f.Date, f.Location)
		ry, rm, rd := civilDate(rec.GameDate, f.Location)
		if fy != ry || fm != rm || fd != rd {
			return false
		}
	}
	if f.Team != "" && !strings.Contains(fold(rec.Game), fold(f.Team)) {
		return false
	}
	if f.Player != "" && !strings.Contains(fold(rec.Player), fold(f.Player)) {
		return false
	}
	if f.Metric != "" && fold(rec.Metric) != fold(f.Metric) {
		return false
	}
	return true
}

// ApplyFilter returns the records passing f, in their original order. It
// does not modify recs and ApplyFilter(ApplyFilter(r, f), f) equals
// ApplyFilter(r, f).
func ApplyFilter(recs []auction.Record, f Filter) []auction.Record {
	out := make([]auction.Record, 0, len(recs))
	for _, rec := range recs {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// SortForSettlement orders records for the settlement views: live games
// first, then scheduled, final and unknown; within a rank the latest game
// first, then the highest id. The input is not modified.
func SortForSettlement(recs []auction.Record) []auction.Record {
	out := slices.Clone(recs)
	slices.SortStableFunc(out, func(a, b auction.Record) int {
		if c := cmp.Compare(a.GameStatus.Rank(), b.GameStatus.Rank()); c != 0 {
			return c
		}
		if c := b.GameDate.Compare(a.GameDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// sortNewest orders records by creation, newest first.
func sortNewest(recs []auction.Record) {
	slices.SortStableFunc(recs, func(a, b auction.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
