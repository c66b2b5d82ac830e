package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lendfabric/loanmatch/pkg/models"
)

// GormStore implements Store using GORM, with an optional Redis
// read-through cache for currency decimals and lender profiles.
type GormStore struct {
	db       *gorm.DB
	logger   *zap.Logger
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewGormStore creates a GORM-backed store. cache may be nil; lookups then
// always go to the database.
func NewGormStore(db *gorm.DB, logger *zap.Logger, cache *redis.Client, cacheTTL time.Duration) *GormStore {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &GormStore{
		db:       db,
		logger:   logger,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// AutoMigrate creates or updates the schema for all engine-owned models.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Currency{},
		&models.LenderProfile{},
		&models.LoanApplication{},
		&models.LoanOffer{},
		&models.MatchedLoanPair{},
		&models.ExchangeRateSnapshot{},
		&models.Loan{},
		&models.PlatformFeeConfig{},
	)
}

func (s *GormStore) ListMatchableApplications(ctx context.Context, page, limit int) ([]*models.LoanApplication, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	var apps []*models.LoanApplication
	// Fetch one extra row to detect a following page without a count query.
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ApplicationStatusPublished).
		Order("applied_at ASC, id ASC").
		Offset(page * limit).
		Limit(limit + 1).
		Find(&apps).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to list matchable applications: %w", err)
	}
	hasMore := len(apps) > limit
	if hasMore {
		apps = apps[:limit]
	}
	return apps, hasMore, nil
}

func (s *GormStore) GetApplication(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error) {
	var app models.LoanApplication
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get application %s: %w", id, err)
	}
	return &app, nil
}

func (s *GormStore) ListAvailableOffers(ctx context.Context, principalCurrency string, limit int) ([]*models.LoanOffer, error) {
	if limit <= 0 {
		limit = 200
	}
	var offers []*models.LoanOffer
	err := s.db.WithContext(ctx).
		Where("principal_currency = ? AND status = ? AND available_amount > 0", principalCurrency, models.OfferStatusPublished).
		Where("expires_at IS NULL OR expires_at >= ?", time.Now().UTC()).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&offers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list available offers: %w", err)
	}
	return offers, nil
}

func (s *GormStore) GetOffer(ctx context.Context, id uuid.UUID) (*models.LoanOffer, error) {
	var offer models.LoanOffer
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&offer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("offer %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get offer %s: %w", id, err)
	}
	return &offer, nil
}

func (s *GormStore) GetLatestExchangeRate(ctx context.Context, base, quote string, at time.Time) (*models.ExchangeRateSnapshot, error) {
	var snap models.ExchangeRateSnapshot
	err := s.db.WithContext(ctx).
		Where("base_currency = ? AND quote_currency = ? AND source_time <= ?", base, quote, at).
		Order("source_time DESC").
		First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get exchange rate %s/%s: %w", base, quote, err)
	}
	return &snap, nil
}

func (s *GormStore) GetCurrencyDecimals(ctx context.Context, currency string) (int, error) {
	if s.cache != nil {
		key := "loanmatch:currency:decimals:" + currency
		if val, err := s.cache.Get(ctx, key).Result(); err == nil {
			if d, convErr := strconv.Atoi(val); convErr == nil {
				return d, nil
			}
		}
	}

	var cur models.Currency
	if err := s.db.WithContext(ctx).Where("code = ?", currency).First(&cur).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("currency %s: %w", currency, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to get currency %s: %w", currency, err)
	}

	if s.cache != nil {
		key := "loanmatch:currency:decimals:" + currency
		if err := s.cache.Set(ctx, key, strconv.Itoa(cur.Decimals), s.cacheTTL).Err(); err != nil {
			s.logger.Debug("currency decimals cache write failed", zap.String("currency", currency), zap.Error(err))
		}
	}
	return cur.Decimals, nil
}

func (s *GormStore) GetLenderProfile(ctx context.Context, lenderID uuid.UUID) (*models.LenderProfile, error) {
	if s.cache != nil {
		key := "loanmatch:lender:type:" + lenderID.String()
		if val, err := s.cache.Get(ctx, key).Result(); err == nil {
			return &models.LenderProfile{LenderID: lenderID, LenderType: val}, nil
		}
	}

	var profile models.LenderProfile
	if err := s.db.WithContext(ctx).Where("lender_id = ?", lenderID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lender profile %s: %w", lenderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get lender profile %s: %w", lenderID, err)
	}

	if s.cache != nil {
		key := "loanmatch:lender:type:" + lenderID.String()
		if err := s.cache.Set(ctx, key, profile.LenderType, s.cacheTTL).Err(); err != nil {
			s.logger.Debug("lender profile cache write failed", zap.String("lender_id", lenderID.String()), zap.Error(err))
		}
	}
	return &profile, nil
}

// RecordMatch performs the single atomic match write. Conditional updates
// on application status and offer availability make the operation safe
// under concurrent runs: the loser of a race gets a sentinel error.
func (s *GormStore) RecordMatch(ctx context.Context, params RecordMatchParams) (*models.MatchedLoanPair, error) {
	pair := &models.MatchedLoanPair{
		ID:                  uuid.New(),
		LoanApplicationID:   params.ApplicationID,
		LoanOfferID:         params.OfferID,
		LtvRatio:            params.LtvRatio,
		CollateralValuation: params.CollateralValuation,
		MatchedAt:           params.MatchedAt,
		CreatedAt:           time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.LoanApplication{}).
			Where("id = ? AND status = ?", params.ApplicationID, models.ApplicationStatusPublished).
			Updates(map[string]interface{}{
				"status":     models.ApplicationStatusMatched,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to transition application: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("application %s: %w", params.ApplicationID, ErrApplicationAlreadyMatched)
		}

		res = tx.Model(&models.LoanOffer{}).
			Where("id = ? AND status = ? AND available_amount >= ?", params.OfferID, models.OfferStatusPublished, params.RequestedAmount).
			Updates(map[string]interface{}{
				"available_amount": gorm.Expr("available_amount - ?", params.RequestedAmount),
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to decrement offer availability: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("offer %s: %w", params.OfferID, ErrOfferUnavailable)
		}

		var offer models.LoanOffer
		if err := tx.Where("id = ?", params.OfferID).First(&offer).Error; err != nil {
			return fmt.Errorf("failed to reload offer: %w", err)
		}
		if offer.AvailableAmount.LessThanOrEqual(decimal.Zero) {
			if err := tx.Model(&models.LoanOffer{}).
				Where("id = ?", params.OfferID).
				Update("status", models.OfferStatusExhausted).Error; err != nil {
				return fmt.Errorf("failed to exhaust offer: %w", err)
			}
		}

		if err := tx.Create(pair).Error; err != nil {
			return fmt.Errorf("failed to create matched pair: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("match recorded",
		zap.String("application_id", params.ApplicationID.String()),
		zap.String("offer_id", params.OfferID.String()),
		zap.String("ltv", params.LtvRatio.String()))
	return pair, nil
}

func (s *GormStore) OriginateLoan(ctx context.Context, loan *models.Loan) error {
	if err := s.db.WithContext(ctx).Create(loan).Error; err != nil {
		return fmt.Errorf("failed to originate loan: %w", err)
	}
	return nil
}

func (s *GormStore) DisburseLoan(ctx context.Context, loanID uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Loan{}).
		Where("id = ? AND status = ?", loanID, models.LoanStatusOriginated).
		Updates(map[string]interface{}{
			"status":       models.LoanStatusDisbursed,
			"disbursed_at": at,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to disburse loan %s: %w", loanID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("loan %s not in originated state: %w", loanID, ErrNotFound)
	}
	return nil
}

func (s *GormStore) GetPlatformFeeConfig(ctx context.Context) (*models.PlatformFeeConfig, error) {
	var cfg models.PlatformFeeConfig
	err := s.db.WithContext(ctx).
		Where("effective_from <= ?", time.Now().UTC()).
		Order("effective_from DESC").
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("platform fee config: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get platform fee config: %w", err)
	}
	return &cfg, nil
}

func (s *GormStore) ExpireApplications(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.LoanApplication{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.ApplicationStatusPublished, now).
		Updates(map[string]interface{}{
			"status":     models.ApplicationStatusExpired,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire applications: %w", res.Error)
	}
	return res.RowsAffected, nil
}
