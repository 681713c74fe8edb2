package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pampa-erp/pampa/internal/shared"
)

// Service exposes the chart of accounts.
type Service struct {
	repo   Repository
	lookup *CachedLookup
	logger *slog.Logger
}

// NewService builds Service. lookup may be nil to read straight from repo.
func NewService(repo Repository, lookup *CachedLookup, logger *slog.Logger) *Service {
	if lookup == nil {
		lookup = NewCachedLookup(repo, nil, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, lookup: lookup, logger: logger}
}

// List returns every account ordered by code.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// GetByCode returns one account, served from the cache when possible.
func (s *Service) GetByCode(ctx context.Context, code string) (Account, error) {
	return s.lookup.GetByCode(ctx, code)
}

// CreateAccountRequest is the payload for adding a chart of accounts node.
type CreateAccountRequest struct {
	Code           string `json:"code" validate:"required,max=32"`
	Name           string `json:"name" validate:"required,max=160"`
	Type           Type   `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	ParentCode     string `json:"parent_code"`
	AcceptsEntries bool   `json:"accepts_entries"`
}

// Create adds an account. The parent, when given, must exist, share the type
// and must not accept entries itself.
func (s *Service) Create(ctx context.Context, req CreateAccountRequest) (Account, error) {
	if err := shared.Validate(req); err != nil {
		return Account{}, err
	}
	acc := Account{
		Code:           strings.TrimSpace(req.Code),
		Name:           strings.TrimSpace(req.Name),
		Type:           req.Type,
		Level:          CodeLevel(req.Code),
		AcceptsEntries: req.AcceptsEntries,
		IsActive:       true,
	}
	if req.ParentCode != "" {
		parent, err := s.repo.GetByCode(ctx, req.ParentCode)
		if err != nil {
			return Account{}, err
		}
		verr := &shared.ValidationError{}
		if parent.AcceptsEntries {
			verr.Addf("parent_code", "account %s accepts entries and cannot have children", parent.Code)
		}
		if parent.Type != req.Type {
			verr.Addf("type", "must match parent type %s", parent.Type)
		}
		if !strings.HasPrefix(acc.Code, parent.Code+".") {
			verr.Addf("code", "must extend parent code %s", parent.Code)
		}
		if err := verr.OrNil(); err != nil {
			return Account{}, err
		}
		acc.ParentID = &parent.ID
	}
	created, err := s.repo.Create(ctx, acc)
	if err != nil {
		return Account{}, err
	}
	if err := s.lookup.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate account cache", slog.Any("error", err))
	}
	return created, nil
}

// CodeLevel returns the hierarchy depth of a dotted account code.
func CodeLevel(code string) int {
	code = strings.Trim(strings.TrimSpace(code), ".")
	if code == "" {
		return 0
	}
	return strings.Count(code, ".") + 1
}

// Describe renders an account for log and error messages.
func Describe(acc Account) string {
	return fmt.Sprintf("%s %s", acc.Code, acc.Name)
}
