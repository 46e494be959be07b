package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
)

// AuctionColumns lists the auctions table columns in Row order.
const AuctionColumns = `id, creator_id, buyer_id, sport, game, game_number, game_date, game_status,
	player, metric, bet_condition, predicted_value, stake, currency, multiplier, created_at, expires_at,
	status, actual_value, winner_id, sold_at, settled_at, refund_reason, stake_returned, purchase_key, version`

// Row is the flat form of an auction shared by the SQL drivers.
type Row struct {
	ID             string          `db:"id"`
	CreatorID      string          `db:"creator_id"`
	BuyerID        *string         `db:"buyer_id"`
	Sport          string          `db:"sport"`
	Game           string          `db:"game"`
	GameNumber     int             `db:"game_number"`
	GameDate       time.Time       `db:"game_date"`
	GameStatus     string          `db:"game_status"`
	Player         string          `db:"player"`
	Metric         string          `db:"metric"`
	Condition      string          `db:"bet_condition"`
	PredictedValue float64         `db:"predicted_value"`
	Stake          decimal.Decimal `db:"stake"`
	Currency       string          `db:"currency"`
	Multiplier     decimal.Decimal `db:"multiplier"`
	CreatedAt      time.Time       `db:"created_at"`
	ExpiresAt      time.Time       `db:"expires_at"`
	Status         string          `db:"status"`
	ActualValue    *float64        `db:"actual_value"`
	WinnerID       *string         `db:"winner_id"`
	SoldAt         *time.Time      `db:"sold_at"`
	SettledAt      *time.Time      `db:"settled_at"`
	RefundReason   *string         `db:"refund_reason"`
	StakeReturned  bool            `db:"stake_returned"`
	PurchaseKey    *string         `db:"purchase_key"`
	Version        int             `db:"version"`
}

// Args returns the row's values in AuctionColumns order.
func (r Row) Args() []any {
	return []any{
		r.ID, r.CreatorID, r.BuyerID, r.Sport, r.Game, r.GameNumber, r.GameDate, r.GameStatus,
		r.Player, r.Metric, r.Condition, r.PredictedValue, r.Stake, r.Currency, r.Multiplier, r.CreatedAt, r.ExpiresAt,
		r.Status, r.ActualValue, r.WinnerID, r.SoldAt, r.SettledAt, r.RefundReason, r.StakeReturned, r.PurchaseKey, r.Version,
	}
}

// Dest returns pointers to the row's fields in AuctionColumns order.
func (r *Row) Dest() []any {
	return []any{
		&r.ID, &r.CreatorID, &r.BuyerID, &r.Sport, &r.Game, &r.GameNumber, &r.GameDate, &r.GameStatus,
		&r.Player, &r.Metric, &r.Condition, &r.PredictedValue, &r.Stake, &r.Currency, &r.Multiplier, &r.CreatedAt, &r.ExpiresAt,
		&r.Status, &r.ActualValue, &r.WinnerID, &r.SoldAt, &r.SettledAt, &r.RefundReason, &r.StakeReturned, &r.PurchaseKey, &r.Version,
	}
}

// FromRecord flattens rec.
func FromRecord(rec auction.Record) Row {
	return Row{
		ID:             rec.ID,
		CreatorID:      rec.CreatorID,
		BuyerID:        nullable(rec.BuyerID),
		Sport:          rec.Sport,
		Game:           rec.Game,
		GameNumber:     rec.GameNumber,
		GameDate:       rec.GameDate.UTC(),
		GameStatus:     string(rec.GameStatus),
		Player:         rec.Player,
		Metric:         rec.Metric,
		Condition:      string(rec.Condition),
		PredictedValue: rec.PredictedValue,
		Stake:          rec.Stake,
		Currency:       string(rec.Currency),
		Multiplier:     rec.Multiplier,
		CreatedAt:      rec.CreatedAt.UTC(),
		ExpiresAt:      rec.ExpiresAt.UTC(),
		Status:         string(rec.Status),
		ActualValue:    rec.ActualValue,
		WinnerID:       nullable(rec.WinnerID),
		SoldAt:         rec.SoldAt,
		SettledAt:      rec.SettledAt,
		RefundReason:   nullable(rec.RefundReason),
		StakeReturned:  rec.StakeReturned,
		PurchaseKey:    nullable(rec.PurchaseKey),
		Version:        rec.Version,
	}
}

// Record rebuilds the auction.
func (r Row) Record() auction.Record {
	return auction.Record{
		ID:             r.ID,
		CreatorID:      r.CreatorID,
		BuyerID:        deref(r.BuyerID),
		Sport:          r.Sport,
		Game:           r.Game,
		GameNumber:     r.GameNumber,
		GameDate:       r.GameDate.UTC(),
		GameStatus:     auction.GameStatus(r.GameStatus),
		Player:         r.Player,
		Metric:         r.Metric,
		Condition:      auction.Condition(r.Condition),
		PredictedValue: r.PredictedValue,
		Stake:          r.Stake,
		Currency:       auction.Currency(r.Currency),
		Multiplier:     r.Multiplier,
		CreatedAt:      r.CreatedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
		Status:         auction.Status(r.Status),
		ActualValue:    r.ActualValue,
		WinnerID:       deref(r.WinnerID),
		SoldAt:         utc(r.SoldAt),
		SettledAt:      utc(r.SettledAt),
		RefundReason:   deref(r.RefundReason),
		StakeReturned:  r.StakeReturned,
		PurchaseKey:    deref(r.PurchaseKey),
		Version:        r.Version,
	}
}

// AccountRow is the flat form of an account.
type AccountRow struct {
	UserID      string          `db:"user_id"`
	Standard    decimal.Decimal `db:"standard"`
	Premium     decimal.Decimal `db:"premium"`
	LastClaimAt *time.Time      `db:"last_claim_at"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// Account rebuilds the account.
func (r AccountRow) Account() Account {
	return Account{
		UserID:      r.UserID,
		Balance:     auction.Balance{Standard: r.Standard, Premium: r.Premium},
		LastClaimAt: utc(r.LastClaimAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

// CurrencyColumn maps a currency to its accounts column.
func CurrencyColumn(c auction.Currency) string {
	if c == auction.Premium {
		return "premium"
	}
	return "standard"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// SQL shared by the Postgres drivers.
const (
	AccountColumns = `user_id, standard, premium, last_claim_at, created_at, updated_at`
	EventColumns   = `id, aggregate_id, type, data, version, created_at`

	InsertAuctionSQL = `INSERT INTO auctions (` + AuctionColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, $24, $25, $26)`

	// UpdateAuctionSQL writes the columns a transition may change.
	UpdateAuctionSQL = `UPDATE auctions SET buyer_id = $2, game_status = $3, status = $4, actual_value = $5,
		winner_id = $6, sold_at = $7, settled_at = $8, refund_reason = $9, stake_returned = $10,
		purchase_key = $11, version = $12 WHERE id = $1`

	InsertAccountSQL = `INSERT INTO accounts (` + AccountColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	InsertEventSQL   = `INSERT INTO events (` + EventColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
)

// UpdateArgs returns the parameters for UpdateAuctionSQL.
func (r Row) UpdateArgs() []any {
	return []any{
		r.ID, r.BuyerID, r.GameStatus, r.Status, r.ActualValue,
		r.WinnerID, r.SoldAt, r.SettledAt, r.RefundReason, r.StakeReturned,
		r.PurchaseKey, r.Version,
	}
}
