package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendfabric/loanmatch/internal/matching"
	"github.com/lendfabric/loanmatch/pkg/errors"
)

// runMatchingRequest is the JSON body of POST /api/v1/matching/run.
type runMatchingRequest struct {
	AsOfDate            *time.Time `json:"as_of_date,omitempty"`
	BatchSize           int        `json:"batch_size,omitempty" validate:"omitempty,gt=0,lte=500"`
	TargetApplicationID *string    `json:"target_application_id,omitempty" validate:"omitempty,uuid"`
	TargetOfferID       *string    `json:"target_offer_id,omitempty" validate:"omitempty,uuid"`

	LenderCriteria *struct {
		AllowedTerms []int   `json:"allowed_terms,omitempty"`
		FixedRate    *string `json:"fixed_rate,omitempty"`
		MinPrincipal *string `json:"min_principal,omitempty"`
		MaxPrincipal *string `json:"max_principal,omitempty"`
	} `json:"lender_criteria,omitempty"`

	BorrowerCriteria *struct {
		TermInMonths               *int    `json:"term_in_months,omitempty" validate:"omitempty,gt=0"`
		PrincipalAmount            *string `json:"principal_amount,omitempty"`
		MaxRate                    *string `json:"max_rate,omitempty"`
		PreferInstitutionalLenders bool    `json:"prefer_institutional_lenders,omitempty"`
	} `json:"borrower_criteria,omitempty"`
}

// runMatching triggers one engine run and returns its report. The engine
// never errors; all failure modes land in the report's errors list.
func (s *Server) runMatching(c *gin.Context) {
	var body runMatchingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if err := s.validate.Struct(&body); err != nil {
		c.JSON(http.StatusBadRequest, errors.BadRequest(err.Error()))
		return
	}

	req := matching.Request{
		AsOfDate:  body.AsOfDate,
		BatchSize: body.BatchSize,
		Trigger:   "manual",
	}

	if body.TargetApplicationID != nil {
		id, err := uuid.Parse(*body.TargetApplicationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.BadRequest("invalid target_application_id"))
			return
		}
		req.TargetApplicationID = &id
	}
	if body.TargetOfferID != nil {
		id, err := uuid.Parse(*body.TargetOfferID)
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.BadRequest("invalid target_offer_id"))
			return
		}
		req.TargetOfferID = &id
	}

	if body.LenderCriteria != nil {
		lc := &matching.LenderCriteria{AllowedTerms: body.LenderCriteria.AllowedTerms}
		var err error
		if lc.FixedRate, err = parseDecimal(body.LenderCriteria.FixedRate); err != nil {
			c.JSON(http.StatusBadRequest, errors.BadRequest("invalid lender_criteria.fixed_rate"))
			return
		}
		if lc.MinPrincipal, err = parseDecimal(body.LenderCriteria.MinPrincipal); err != nil {
			c.JSON(http.StatusBadRequest, errors.BadRequest("invalid lender_criteria.min_principal"))
			return
		}
		if lc.MaxPrincipal, err = parseDecimal(body.LenderCriteria.MaxPrincipal); err != nil {
			c.JSON(http.StatusBadRequest, errors.BadRequest("invalid lender_criteria.max_principal"))
			return
		}
		req.LenderCriteria = lc
	}

	if body.BorrowerCriteria != nil {
		bc := &matching.BorrowerCriteria{
			TermInMonths:               body.BorrowerCriteria.TermInMonths,
			PreferInstitutionalLenders: body.BorrowerCriteria.PreferInstitutionalLenders,
		}
		var err error
		if bc.PrincipalAmount, err = parseDecimal(body.BorrowerCriteria.PrincipalAmount); err != nil {
			c.JSON(http.StatusBadRequest, errors.BadRequest("invalid borrower_criteria.principal_amount"))
			return
		}
		if bc.MaxRate, err = parseDecimal(body.BorrowerCriteria.MaxRate); err != nil {
			c.JSON(http.StatusBadRequest, errors.BadRequest("invalid borrower_criteria.max_rate"))
			return
		}
		req.BorrowerCriteria = bc
	}

	report := s.engine.RunMatching(c.Request.Context(), req)
	c.JSON(http.StatusOK, report)
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
