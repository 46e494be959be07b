package store_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/store"
)

func TestQueryWhere(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		q        store.Query
		wantSQL  []string
		wantArgs int
	}{
		{name: "empty", q: store.Query{}, wantSQL: []string{"TRUE", "ORDER BY created_at DESC, id DESC"}},
		{
			name:     "participant reuses one parameter",
			q:        store.Query{ParticipantID: "u1"},
			wantSQL:  []string{"(creator_id = $1 OR buyer_id = $1)"},
			wantArgs: 1,
		},
		{
			name:     "effective statuses",
			q:        store.Query{Statuses: []auction.Status{auction.StatusOpen, auction.StatusExpired, auction.StatusSold}, Now: now},
			wantSQL:  []string{"status = 'open' AND expires_at > $1", "status = 'open' AND expires_at <= $2", "status = $3"},
			wantArgs: 3,
		},
		{
			name:     "game day spans one day",
			q:        store.Query{GameDay: now, Limit: 5},
			wantSQL:  []string{"game_date >= $1 AND game_date < $2", "LIMIT 5"},
			wantArgs: 2,
		},
		{
			name:     "market",
			q:        store.Query{ExcludeCreatorID: "u1", UnreturnedStake: true},
			wantSQL:  []string{"creator_id <> $1", "NOT stake_returned"},
			wantArgs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, suffix, args := tt.q.Where()
			full := where + suffix
			for _, want := range tt.wantSQL {
				if !strings.Contains(full, want) {
					t.Errorf("Where() = %q, want it to contain %q", full, want)
				}
			}
			if len(args) != tt.wantArgs {
				t.Errorf("got %d args, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestQueryMatches_ExpiredIsDerived(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	rec := auction.Record{ID: "a1", CreatorID: "u1", Status: auction.StatusOpen, ExpiresAt: now}

	open := store.Query{Statuses: []auction.Status{auction.StatusOpen}, Now: now.Add(-time.Second)}
	if !open.Matches(rec) {
		t.Error("auction should be open before expiry")
	}
	expired := store.Query{Statuses: []auction.Status{auction.StatusExpired}, Now: now}
	if !expired.Matches(rec) {
		t.Error("auction should be expired at its expiry instant")
	}
	if (store.Query{ExcludeCreatorID: "u1"}).Matches(rec) {
		t.Error("creator's own auction should be excluded")
	}
}
