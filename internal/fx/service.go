package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/shared"
)

// ErrOverlappingRate indicates a new rate whose validity overlaps an existing one.
var ErrOverlappingRate = fmt.Errorf("fx: validity overlaps an existing rate: %w", shared.ErrConflict)

// Service maintains the rate table.
type Service struct {
	repo   Repository
	ledger string
	logger *slog.Logger
}

// NewService builds Service for the given ledger currency.
func NewService(repo Repository, ledgerCurrency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: normalize(ledgerCurrency), logger: logger}
}

// LedgerCurrency returns the currency balances are kept in.
func (s *Service) LedgerCurrency() string { return s.ledger }

// CreateRateRequest is the HTTP payload for a new rate.
type CreateRateRequest struct {
	Currency  string          `json:"currency" validate:"required,len=3"`
	Rate      decimal.Decimal `json:"rate" validate:"gt=0"`
	ValidFrom string          `json:"valid_from" validate:"required,datetime=2006-01-02"`
	ValidTo   string          `json:"valid_to" validate:"omitempty,datetime=2006-01-02"`
	Source    string          `json:"source" validate:"max=64"`
}

// Create stores a rate after checking it does not overlap another one of the same currency.
func (s *Service) Create(ctx context.Context, req CreateRateRequest) (Rate, error) {
	if err := shared.Validate(req); err != nil {
		return Rate{}, err
	}
	rate, err := req.toRate()
	if err != nil {
		return Rate{}, err
	}
	if rate.Currency == s.ledger {
		return Rate{}, shared.NewValidationError("currency", "the ledger currency has a fixed rate of 1")
	}
	var created Rate
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListRates(ctx, rate.Currency)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.Validity.Overlaps(rate.Validity) {
				return fmt.Errorf("%w (rate %d from %s)", ErrOverlappingRate, e.ID, e.Validity.From.Format(time.DateOnly))
			}
		}
		created, err = tx.InsertRate(ctx, rate)
		return err
	})
	if err != nil {
		return Rate{}, err
	}
	s.logger.Info("exchange rate created", slog.String("currency", created.Currency), slog.String("rate", created.Rate.String()))
	return created, nil
}

// List returns stored rates, optionally for one currency.
func (s *Service) List(ctx context.Context, currency string) ([]Rate, error) {
	return s.repo.List(ctx, currency)
}

// LoadTable reads the rates of currencies through q and returns a table snapshot.
func LoadTable(ctx context.Context, q TxRepository, ledgerCurrency string, currencies ...string) (*Table, error) {
	ledger := normalize(ledgerCurrency)
	var all []Rate
	seen := map[string]bool{}
	for _, c := range currencies {
		c = normalize(c)
		if c == "" || c == ledger || seen[c] {
			continue
		}
		seen[c] = true
		rates, err := q.ListRates(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("fx: load %s: %w", c, err)
		}
		all = append(all, rates...)
	}
	return NewTable(ledger, all), nil
}

func (r CreateRateRequest) toRate() (Rate, error) {
	from, err := time.Parse(time.DateOnly, r.ValidFrom)
	if err != nil {
		return Rate{}, shared.NewValidationError("valid_from", "must be YYYY-MM-DD")
	}
	rate := Rate{Currency: normalize(r.Currency), Rate: r.Rate, Validity: shared.DateRange{From: from}, Source: r.Source}
	if r.ValidTo != "" {
		to, err := time.Parse(time.DateOnly, r.ValidTo)
		if err != nil {
			return Rate{}, shared.NewValidationError("valid_to", "must be YYYY-MM-DD")
		}
		rate.Validity.To = &to
	}
	if !rate.Validity.Valid() {
		return Rate{}, shared.NewValidationError("valid_to", "must be after valid_from")
	}
	return rate, nil
}

// IsMissingRate reports whether err is a NoExchangeRateError.
func IsMissingRate(err error) bool {
	var target *shared.NoExchangeRateError
	return errors.As(err, &target)
}
