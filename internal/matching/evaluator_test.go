package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendfabric/loanmatch/pkg/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testApplication(amount string, term int) *models.LoanApplication {
	return &models.LoanApplication{
		ID:                 uuid.New(),
		BorrowerID:         uuid.New(),
		CollateralCurrency: "ETH",
		CollateralAmount:   dec("2500000000000000000"),
		PrincipalCurrency:  "USDC",
		RequestedAmount:    dec(amount),
		TermInMonths:       term,
		Status:             models.ApplicationStatusPublished,
		AppliedAt:          time.Now().UTC(),
	}
}

func testOffer(min, max, available, rate string, terms ...int) *models.LoanOffer {
	return &models.LoanOffer{
		ID:                uuid.New(),
		LenderID:          uuid.New(),
		PrincipalCurrency: "USDC",
		OfferedAmount:     dec(available),
		AvailableAmount:   dec(available),
		MinLoanAmount:     dec(min),
		MaxLoanAmount:     dec(max),
		InterestRate:      dec(rate),
		TermOptions:       terms,
		Status:            models.OfferStatusPublished,
	}
}

func TestEvaluateAmountBoundaries(t *testing.T) {
	now := time.Now().UTC()
	var eval Evaluator

	cases := []struct {
		name   string
		amount string
		ok     bool
		reason IncompatibilityReason
	}{
		{"exactly min", "100.00", true, ReasonNone},
		{"exactly max", "5000.00", true, ReasonNone},
		{"one cent below min", "99.99", false, ReasonAmountOutOfRange},
		{"one cent above max", "5000.01", false, ReasonAmountOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			offer := testOffer("100.00", "5000.00", "10000.00", "0.08", 12)
			ok, reason := eval.Evaluate(testApplication(tc.amount, 12), offer, now)
			if ok != tc.ok || reason != tc.reason {
				t.Fatalf("amount %s: got (%v, %q), want (%v, %q)", tc.amount, ok, reason, tc.ok, tc.reason)
			}
		})
	}
}

func TestEvaluateAvailability(t *testing.T) {
	now := time.Now().UTC()
	var eval Evaluator

	offer := testOffer("100.00", "5000.00", "10000.00", "0.08", 12)
	offer.AvailableAmount = dec("200.00")

	if ok, _ := eval.Evaluate(testApplication("200.00", 12), offer, now); !ok {
		t.Fatal("amount equal to availability should pass")
	}
	ok, reason := eval.Evaluate(testApplication("200.01", 12), offer, now)
	if ok || reason != ReasonInsufficientAvailability {
		t.Fatalf("got (%v, %q), want availability failure", ok, reason)
	}
}

func TestEvaluateTermMembership(t *testing.T) {
	now := time.Now().UTC()
	var eval Evaluator

	offer := testOffer("100.00", "5000.00", "10000.00", "0.08", 3, 6, 12)
	if ok, _ := eval.Evaluate(testApplication("500", 6), offer, now); !ok {
		t.Fatal("term 6 is an exact member of the offer's options")
	}
	ok, reason := eval.Evaluate(testApplication("500", 9), offer, now)
	if ok || reason != ReasonTermNotOffered {
		t.Fatalf("got (%v, %q), want term failure", ok, reason)
	}

	empty := testOffer("100.00", "5000.00", "10000.00", "0.08")
	ok, reason = eval.Evaluate(testApplication("500", 6), empty, now)
	if ok || reason != ReasonTermNotOffered {
		t.Fatalf("empty term options: got (%v, %q), want term failure", ok, reason)
	}
}

func TestEvaluateRateCeiling(t *testing.T) {
	now := time.Now().UTC()
	var eval Evaluator

	app := testApplication("500", 12)
	app.MaxAcceptableRate = decPtr("0.08")

	equal := testOffer("100.00", "5000.00", "10000.00", "0.08", 12)
	if ok, _ := eval.Evaluate(app, equal, now); !ok {
		t.Fatal("rate equal to ceiling should pass")
	}

	above := testOffer("100.00", "5000.00", "10000.00", "0.0801", 12)
	ok, reason := eval.Evaluate(app, above, now)
	if ok || reason != ReasonRateAboveCeiling {
		t.Fatalf("got (%v, %q), want rate ceiling failure", ok, reason)
	}

	// No ceiling set means any positive rate passes.
	app.MaxAcceptableRate = nil
	if ok, _ := eval.Evaluate(app, above, now); !ok {
		t.Fatal("no ceiling set should pass")
	}
}

func TestEvaluateInvalidRate(t *testing.T) {
	now := time.Now().UTC()
	var eval Evaluator

	offer := testOffer("100.00", "5000.00", "10000.00", "0", 12)
	ok, reason := eval.Evaluate(testApplication("500", 12), offer, now)
	if ok || reason != ReasonInvalidRate {
		t.Fatalf("got (%v, %q), want invalid rate", ok, reason)
	}
}

func TestEvaluateExpiry(t *testing.T) {
	now := time.Now().UTC()
	var eval Evaluator

	expired := testOffer("100.00", "5000.00", "10000.00", "0.08", 12)
	past := now.Add(-time.Hour)
	expired.ExpiresAt = &past
	ok, reason := eval.Evaluate(testApplication("500", 12), expired, now)
	if ok || reason != ReasonOfferExpired {
		t.Fatalf("got (%v, %q), want expired", ok, reason)
	}

	live := testOffer("100.00", "5000.00", "10000.00", "0.08", 12)
	future := now.Add(time.Hour)
	live.ExpiresAt = &future
	if ok, _ := eval.Evaluate(testApplication("500", 12), live, now); !ok {
		t.Fatal("future expiry should pass")
	}
}

func TestEvaluateShortCircuitOrder(t *testing.T) {
	// An offer failing several rules at once must report the first rule in
	// the fixed order.
	now := time.Now().UTC()
	var eval Evaluator

	offer := testOffer("100.00", "5000.00", "10000.00", "0", 6)
	past := now.Add(-time.Hour)
	offer.ExpiresAt = &past

	app := testApplication("50.00", 12) // out of range AND wrong term AND zero rate AND expired
	_, reason := eval.Evaluate(app, offer, now)
	if reason != ReasonAmountOutOfRange {
		t.Fatalf("got %q, want first-failing reason %q", reason, ReasonAmountOutOfRange)
	}
}
