package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/jensholdgaard/auction-house/internal/pricing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestScenarios(t *testing.T) {
	tests := []struct {
		name      string
		stake     string
		m         string
		wantCost  string
		wantPot   string
		wantOdds  string
		wantBuyer string
	}{
		{name: "even money", stake: "10", m: "2.0", wantCost: "10", wantPot: "20", wantOdds: "+100", wantBuyer: "2"},
		{name: "favourite", stake: "50", m: "1.5", wantCost: "25", wantPot: "75", wantOdds: "-200", wantBuyer: "3"},
		{name: "long shot", stake: "4", m: "3.25", wantCost: "9", wantPot: "13", wantOdds: "+225", wantBuyer: "1.44"},
		{name: "minimum multiplier", stake: "100", m: "1.01", wantCost: "1", wantPot: "101", wantOdds: "-10000", wantBuyer: "101"},
		{name: "fractional stake", stake: "0.12345", m: "1.3", wantCost: "0.03704", wantPot: "0.16049", wantOdds: "-333", wantBuyer: "4.33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stake, m := d(tt.stake), d(tt.m)
			if got := pricing.Cost(stake, m); !got.Equal(d(tt.wantCost)) {
				t.Errorf("Cost() = %s, want %s", got, tt.wantCost)
			}
			if got := pricing.TotalPot(stake, m); !got.Equal(d(tt.wantPot)) {
				t.Errorf("TotalPot() = %s, want %s", got, tt.wantPot)
			}
			if got := pricing.AmericanOdds(m); got != tt.wantOdds {
				t.Errorf("AmericanOdds() = %q, want %q", got, tt.wantOdds)
			}
			got, err := pricing.DisplayMultiplier(m, pricing.Buyer)
			if err != nil {
				t.Fatalf("DisplayMultiplier() error = %v", err)
			}
			if !got.Equal(d(tt.wantBuyer)) {
				t.Errorf("DisplayMultiplier(buyer) = %s, want %s", got, tt.wantBuyer)
			}
		})
	}
}

func TestAmericanOdds_NotApplicable(t *testing.T) {
	for _, m := range []string{"1", "0.5", "0", "-3"} {
		if got := pricing.AmericanOdds(d(m)); got != "N/A" {
			t.Errorf("AmericanOdds(%s) = %q, want N/A", m, got)
		}
	}
}

func TestInverseMultiplier_Invalid(t *testing.T) {
	if _, err := pricing.InverseMultiplier(d("1")); err != pricing.ErrMultiplier {
		t.Errorf("InverseMultiplier(1) error = %v, want ErrMultiplier", err)
	}
	if _, err := pricing.DisplayMultiplier(d("0.9"), pricing.Buyer); err == nil {
		t.Error("DisplayMultiplier(0.9, buyer) should fail")
	}
	got, err := pricing.DisplayMultiplier(d("0.9"), pricing.Creator)
	if err != nil || !got.Equal(d("0.9")) {
		t.Errorf("DisplayMultiplier(0.9, creator) = %s, %v", got, err)
	}
}

func TestOppositeCondition(t *testing.T) {
	tests := map[string]string{
		"over":        "under",
		"under":       "over",
		"exactly":     "not exactly",
		"not exactly": "exactly",
		"Over":        "under",
		"sideways":    "sideways",
	}
	for in, want := range tests {
		if got := pricing.OppositeCondition(in); got != want {
			t.Errorf("OppositeCondition(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOppositeCondition_Involution(t *testing.T) {
	for _, c := range []string{"over", "under", "exactly", "not exactly"} {
		if got := pricing.OppositeCondition(pricing.OppositeCondition(c)); got != c {
			t.Errorf("opposite(opposite(%q)) = %q", c, got)
		}
	}
}

func TestQuoteFor(t *testing.T) {
	creator, err := pricing.QuoteFor(d("50"), d("1.5"), pricing.Creator)
	if err != nil {
		t.Fatal(err)
	}
	if !creator.Risk.Equal(d("50")) || !creator.Profit.Equal(d("25")) || creator.Odds != "-200" {
		t.Errorf("creator quote = %+v", creator)
	}

	buyer, err := pricing.QuoteFor(d("50"), d("1.5"), pricing.Buyer)
	if err != nil {
		t.Fatal(err)
	}
	if !buyer.Risk.Equal(d("25")) || !buyer.Profit.Equal(d("50")) || !buyer.Multiplier.Equal(d("3")) || buyer.Odds != "+200" {
		t.Errorf("buyer quote = %+v", buyer)
	}
	if !creator.Pot.Equal(buyer.Pot) {
		t.Errorf("pots differ: %s vs %s", creator.Pot, buyer.Pot)
	}

	risky, _ := pricing.QuoteFor(d("1"), d("12"), pricing.Creator)
	if !risky.HighRisk {
		t.Error("multiplier 12 should be flagged high risk")
	}
}

func drawStake(t *rapid.T) decimal.Decimal {
	return decimal.New(rapid.Int64Range(1, 100_000_000_000).Draw(t, "stake"), -pricing.StakePlaces)
}

func drawMultiplier(t *rapid.T, maxCents int64) decimal.Decimal {
	return decimal.New(rapid.Int64Range(101, maxCents).Draw(t, "multiplier"), -2)
}

func TestProperty_PotIsStakePlusCost(t *testing.T) {
	tolerance := decimal.New(5, -(pricing.StakePlaces + 1))
	rapid.Check(t, func(t *rapid.T) {
		stake, m := drawStake(t), drawMultiplier(t, 10_000)

		cost := pricing.Cost(stake, m)
		pot := pricing.TotalPot(stake, m)
		if !pot.Equal(stake.Add(cost)) {
			t.Fatalf("pot %s != stake %s + cost %s", pot, stake, cost)
		}
		exact := stake.Mul(m.Sub(decimal.NewFromInt(1)))
		if cost.Sub(exact).Abs().GreaterThan(tolerance) {
			t.Fatalf("cost %s drifts from exact %s", cost, exact)
		}
	})
}

func TestProperty_InverseRoundTrip(t *testing.T) {
	epsilon := decimal.New(1, -9)
	rapid.Check(t, func(t *rapid.T) {
		m := drawMultiplier(t, 10_000)

		inv, err := pricing.InverseMultiplier(m)
		if err != nil {
			t.Fatal(err)
		}
		back, err := pricing.InverseMultiplier(inv)
		if err != nil {
			t.Fatal(err)
		}
		if back.Sub(m).Abs().GreaterThan(epsilon) {
			t.Fatalf("inverse(inverse(%s)) = %s", m, back)
		}
	})
}

func TestProperty_DisplayedInverseRoundTrip(t *testing.T) {
	tolerance := decimal.New(1, -2)
	rapid.Check(t, func(t *rapid.T) {
		m := drawMultiplier(t, 200)

		shown, err := pricing.DisplayMultiplier(m, pricing.Buyer)
		if err != nil {
			t.Fatal(err)
		}
		back, err := pricing.DisplayMultiplier(shown, pricing.Buyer)
		if err != nil {
			t.Fatal(err)
		}
		if back.Sub(m).Abs().GreaterThan(tolerance) {
			t.Fatalf("displayed round trip of %s gave %s via %s", m, back, shown)
		}
	})
}
