package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/shared"
)

const dateLayout = "2006-01-02"

// RateLister reads the stored rates of a currency.
type RateLister interface {
	List(ctx context.Context, currency string) ([]fx.Rate, error)
}

// RatesCLI offers operational checks over the exchange rate table.
type RatesCLI struct {
	rates RateLister
}

// NewRatesCLI constructs the helper.
func NewRatesCLI(rates RateLister) *RatesCLI {
	return &RatesCLI{rates: rates}
}

// RatesValidateOptions defines the flags of the rates validate command.
type RatesValidateOptions struct {
	Currency   string
	From       string
	To         string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RatesValidateSummary is the JSON response of rates validate.
type RatesValidateSummary struct {
	OK       bool       `json:"ok"`
	Currency string     `json:"currency"`
	From     string     `json:"from"`
	To       string     `json:"to"`
	Rates    int        `json:"rates"`
	Gaps     []RatesGap `json:"gaps"`
}

// RatesGap is a day range with no rate; To is exclusive.
type RatesGap struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ValidateCommand reports days in [From, To] that have no rate for the
// currency. It returns 10 when gaps exist so schedulers can alert on it.
func (c *RatesCLI) ValidateCommand(ctx context.Context, opts RatesValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if len(currency) != 3 {
		_, _ = fmt.Fprintln(opts.Stderr, "rates validate: --currency must be a 3 letter code")
		return 1
	}
	from, err := time.Parse(dateLayout, strings.TrimSpace(opts.From))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rates validate: invalid --from %q (expected YYYY-MM-DD)\n", opts.From)
		return 1
	}
	to, err := time.Parse(dateLayout, strings.TrimSpace(opts.To))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rates validate: invalid --to %q (expected YYYY-MM-DD)\n", opts.To)
		return 1
	}
	if to.Before(from) {
		_, _ = fmt.Fprintln(opts.Stderr, "rates validate: --to is before --from")
		return 1
	}

	rates, err := c.rates.List(ctx, currency)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rates validate: %v\n", err)
		return 1
	}
	end := to.AddDate(0, 0, 1)
	gaps := fx.Gaps(rates, shared.DateRange{From: from, To: &end})

	summary := RatesValidateSummary{
		OK:       len(gaps) == 0,
		Currency: currency,
		From:     from.Format(dateLayout),
		To:       to.Format(dateLayout),
		Rates:    len(rates),
		Gaps:     make([]RatesGap, 0, len(gaps)),
	}
	for _, g := range gaps {
		summary.Gaps = append(summary.Gaps, RatesGap{From: g.From.Format(dateLayout), To: g.To.Format(dateLayout)})
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderRatesHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func renderRatesHuman(out io.Writer, s RatesValidateSummary) {
	_, _ = fmt.Fprintf(out, "Exchange rates for %s from %s to %s (%d stored)\n", s.Currency, s.From, s.To, s.Rates)
	if s.OK {
		_, _ = fmt.Fprintln(out, "Every day has a rate.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(s.Gaps))
	for _, g := range s.Gaps {
		last, _ := time.Parse(dateLayout, g.To)
		_, _ = fmt.Fprintf(out, " - %s to %s\n", g.From, last.AddDate(0, 0, -1).Format(dateLayout))
	}
}
