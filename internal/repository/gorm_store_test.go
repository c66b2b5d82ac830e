package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lendfabric/loanmatch/pkg/models"
)

func setupTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	store := NewGormStore(db, zap.NewNop(), nil, 0)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func seedApplication(t *testing.T, s *GormStore, amount string, appliedAt time.Time) *models.LoanApplication {
	t.Helper()
	app := &models.LoanApplication{
		ID:                 uuid.New(),
		BorrowerID:         uuid.New(),
		CollateralCurrency: "ETH",
		CollateralAmount:   mustDec(t, "2500000000000000000"),
		PrincipalCurrency:  "USDC",
		RequestedAmount:    mustDec(t, amount),
		TermInMonths:       12,
		Status:             models.ApplicationStatusPublished,
		AppliedAt:          appliedAt,
	}
	if err := s.db.Create(app).Error; err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}
	return app
}

func seedOffer(t *testing.T, s *GormStore, available string) *models.LoanOffer {
	t.Helper()
	offer := &models.LoanOffer{
		ID:                uuid.New(),
		LenderID:          uuid.New(),
		PrincipalCurrency: "USDC",
		OfferedAmount:     mustDec(t, available),
		AvailableAmount:   mustDec(t, available),
		MinLoanAmount:     mustDec(t, "10"),
		MaxLoanAmount:     mustDec(t, "100000"),
		InterestRate:      mustDec(t, "0.08"),
		TermOptions:       models.TermOptions{6, 12},
		Status:            models.OfferStatusPublished,
	}
	if err := s.db.Create(offer).Error; err != nil {
		t.Fatalf("failed to seed offer: %v", err)
	}
	return offer
}

func TestRecordMatchIsIdempotentPerApplication(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	app := seedApplication(t, s, "1000", now)
	offer := seedOffer(t, s, "5000")

	params := RecordMatchParams{
		ApplicationID:       app.ID,
		OfferID:             offer.ID,
		RequestedAmount:     app.RequestedAmount,
		LtvRatio:            mustDec(t, "0.6"),
		CollateralValuation: mustDec(t, "5000"),
		MatchedAt:           now,
	}

	pair, err := s.RecordMatch(ctx, params)
	if err != nil {
		t.Fatalf("first match failed: %v", err)
	}
	if pair.LoanApplicationID != app.ID {
		t.Fatalf("pair references wrong application")
	}

	// A repeated attempt must fail cleanly with the sentinel.
	if _, err := s.RecordMatch(ctx, params); !errors.Is(err, ErrApplicationAlreadyMatched) {
		t.Fatalf("second match: got %v, want ErrApplicationAlreadyMatched", err)
	}

	var count int64
	s.db.Model(&models.MatchedLoanPair{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one matched pair, got %d", count)
	}
}

func TestRecordMatchDecrementsAvailability(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	app := seedApplication(t, s, "300", now)
	offer := seedOffer(t, s, "1000")

	if _, err := s.RecordMatch(ctx, RecordMatchParams{
		ApplicationID:   app.ID,
		OfferID:         offer.ID,
		RequestedAmount: app.RequestedAmount,
		MatchedAt:       now,
	}); err != nil {
		t.Fatalf("match failed: %v", err)
	}

	got, err := s.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("failed to reload offer: %v", err)
	}
	if !got.AvailableAmount.Equal(mustDec(t, "700")) {
		t.Fatalf("available = %s, want 700", got.AvailableAmount)
	}
	if got.Status != models.OfferStatusPublished {
		t.Fatalf("offer with remaining availability must stay published, got %s", got.Status)
	}
}

func TestRecordMatchExhaustsOffer(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := seedApplication(t, s, "100", now)
	second := seedApplication(t, s, "100", now)
	offer := seedOffer(t, s, "100")

	if _, err := s.RecordMatch(ctx, RecordMatchParams{
		ApplicationID:   first.ID,
		OfferID:         offer.ID,
		RequestedAmount: first.RequestedAmount,
		MatchedAt:       now,
	}); err != nil {
		t.Fatalf("first match failed: %v", err)
	}

	got, _ := s.GetOffer(ctx, offer.ID)
	if got.Status != models.OfferStatusExhausted {
		t.Fatalf("fully consumed offer must be exhausted, got %s", got.Status)
	}
	if !got.AvailableAmount.IsZero() {
		t.Fatalf("available = %s, want 0", got.AvailableAmount)
	}

	// The exhausted offer cannot serve a second application.
	if _, err := s.RecordMatch(ctx, RecordMatchParams{
		ApplicationID:   second.ID,
		OfferID:         offer.ID,
		RequestedAmount: second.RequestedAmount,
		MatchedAt:       now,
	}); !errors.Is(err, ErrOfferUnavailable) {
		t.Fatalf("got %v, want ErrOfferUnavailable", err)
	}

	// The losing application must stay matchable.
	reloaded, err := s.GetApplication(ctx, second.ID)
	if err != nil {
		t.Fatalf("failed to reload application: %v", err)
	}
	if reloaded.Status != models.ApplicationStatusPublished {
		t.Fatalf("losing application must remain published, got %s", reloaded.Status)
	}
}

func TestListMatchableApplicationsPagination(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	a := seedApplication(t, s, "100", base)
	b := seedApplication(t, s, "100", base.Add(time.Minute))
	c := seedApplication(t, s, "100", base.Add(2*time.Minute))
	matched := seedApplication(t, s, "100", base.Add(3*time.Minute))
	s.db.Model(matched).Update("status", models.ApplicationStatusMatched)

	page0, hasMore, err := s.ListMatchableApplications(ctx, 0, 2)
	if err != nil {
		t.Fatalf("page 0 failed: %v", err)
	}
	if len(page0) != 2 || !hasMore {
		t.Fatalf("page 0: got %d items hasMore=%v, want 2 items hasMore=true", len(page0), hasMore)
	}
	if page0[0].ID != a.ID || page0[1].ID != b.ID {
		t.Fatal("page 0 must be ordered by applied_at")
	}

	page1, hasMore, err := s.ListMatchableApplications(ctx, 1, 2)
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}
	if len(page1) != 1 || hasMore {
		t.Fatalf("page 1: got %d items hasMore=%v, want 1 item hasMore=false", len(page1), hasMore)
	}
	if page1[0].ID != c.ID {
		t.Fatal("matched application must not be listed")
	}
}

func TestGetLatestExchangeRateAtOrBefore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := &models.ExchangeRateSnapshot{
		ID: uuid.New(), BaseCurrency: "ETH", QuoteCurrency: "USDC",
		BidPrice: mustDec(t, "1900000000"), AskPrice: mustDec(t, "1901000000"),
		SourceTime: now.Add(-2 * time.Hour),
	}
	newer := &models.ExchangeRateSnapshot{
		ID: uuid.New(), BaseCurrency: "ETH", QuoteCurrency: "USDC",
		BidPrice: mustDec(t, "2000000000"), AskPrice: mustDec(t, "2001000000"),
		SourceTime: now.Add(-1 * time.Hour),
	}
	if err := s.db.Create(older).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := s.db.Create(newer).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	snap, err := s.GetLatestExchangeRate(ctx, "ETH", "USDC", now)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if snap == nil || snap.ID != newer.ID {
		t.Fatal("must select the most recent snapshot at or before the instant")
	}

	snap, err = s.GetLatestExchangeRate(ctx, "ETH", "USDC", now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if snap == nil || snap.ID != older.ID {
		t.Fatal("an earlier valuation instant must select the earlier snapshot")
	}

	snap, err = s.GetLatestExchangeRate(ctx, "ETH", "USDC", now.Add(-3*time.Hour))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if snap != nil {
		t.Fatal("no snapshot exists before the instant, want nil")
	}
}

func TestExpireApplications(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := seedApplication(t, s, "100", now.Add(-48*time.Hour))
	past := now.Add(-time.Hour)
	s.db.Model(stale).Update("expires_at", past)

	live := seedApplication(t, s, "100", now)
	future := now.Add(time.Hour)
	s.db.Model(live).Update("expires_at", future)

	swept, err := s.ExpireApplications(ctx, now)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept %d, want 1", swept)
	}

	got, _ := s.GetApplication(ctx, stale.ID)
	if got.Status != models.ApplicationStatusExpired {
		t.Fatalf("stale application: got %s, want expired", got.Status)
	}
	got, _ = s.GetApplication(ctx, live.ID)
	if got.Status != models.ApplicationStatusPublished {
		t.Fatalf("live application: got %s, want published", got.Status)
	}
}

func TestDisburseLoanTransitions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	loan := &models.Loan{
		ID:                uuid.New(),
		MatchedLoanPairID: uuid.New(),
		BorrowerID:        uuid.New(),
		LenderID:          uuid.New(),
		PrincipalCurrency: "USDC",
		PrincipalAmount:   mustDec(t, "3000"),
		InterestRate:      mustDec(t, "0.08"),
		TermInMonths:      12,
		Status:            models.LoanStatusOriginated,
		OriginatedAt:      now,
		MaturesAt:         now.AddDate(1, 0, 0),
	}
	if err := s.OriginateLoan(ctx, loan); err != nil {
		t.Fatalf("originate failed: %v", err)
	}

	if err := s.DisburseLoan(ctx, loan.ID, now); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	// A second disbursement must fail: the loan left the originated state.
	if err := s.DisburseLoan(ctx, loan.ID, now); err == nil {
		t.Fatal("double disbursement must fail")
	}
}

func TestGetPlatformFeeConfigPicksEffective(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &models.PlatformFeeConfig{ID: uuid.New(), ProvisionRate: mustDec(t, "0.02"), EffectiveFrom: now.Add(-48 * time.Hour)}
	current := &models.PlatformFeeConfig{ID: uuid.New(), ProvisionRate: mustDec(t, "0.01"), EffectiveFrom: now.Add(-time.Hour)}
	upcoming := &models.PlatformFeeConfig{ID: uuid.New(), ProvisionRate: mustDec(t, "0.03"), EffectiveFrom: now.Add(24 * time.Hour)}
	for _, cfg := range []*models.PlatformFeeConfig{old, current, upcoming} {
		if err := s.db.Create(cfg).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	got, err := s.GetPlatformFeeConfig(ctx)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.ID != current.ID {
		t.Fatal("must pick the latest config already in effect")
	}
}
