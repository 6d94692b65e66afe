// Package strategy normalizes trade-step lists into a canonical form and
// derives the content hash and committed amount from it.
package strategy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"pmbots/internal/apperr"
)

const (
	OutcomeUp   = "UP"
	OutcomeDown = "DOWN"

	MaxSteps = 100

	pricePlaces  = 4
	amountPlaces = 6
)

var intervals = []string{"5m", "15m", "1h", "4h", "1d"}

func Intervals() []string {
	out := make([]string, len(intervals))
	copy(out, intervals)
	return out
}

func ValidInterval(v string) bool {
	for _, iv := range intervals {
		if iv == v {
			return true
		}
	}
	return false
}

type TradeStep struct {
	Outcome       string          `json:"outcome"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	OffsetSeconds int64           `json:"offsetSeconds"`
}

// canonicalStep fixes field order and number formatting of the hashed form.
type canonicalStep struct {
	Amount        json.Number `json:"amount"`
	OffsetSeconds int64       `json:"offsetSeconds"`
	Outcome       string      `json:"outcome"`
	Price         json.Number `json:"price"`
}

type InvalidStep struct {
	Index int    `json:"index"`
	Field string `json:"field"`
	Key   string `json:"key"`
}

func invalid(index int, field, key string) error {
	return apperr.WithData(apperr.CodeStrategyInvalid, "invalid trade step", InvalidStep{Index: index, Field: field, Key: key})
}

// Normalize validates steps and returns them in canonical order with
// defaults applied and values rounded. It is idempotent.
func Normalize(steps []TradeStep) ([]TradeStep, error) {
	if len(steps) == 0 {
		return nil, invalid(-1, "tradeSteps", "required")
	}
	if len(steps) > MaxSteps {
		return nil, invalid(-1, "tradeSteps", "too_many")
	}
	one := decimal.NewFromInt(1)
	out := make([]TradeStep, 0, len(steps))
	for i, st := range steps {
		outcome := strings.ToUpper(strings.TrimSpace(st.Outcome))
		if outcome == "" {
			outcome = OutcomeUp
		}
		if outcome != OutcomeUp && outcome != OutcomeDown {
			return nil, invalid(i, "outcome", "invalid")
		}
		price := st.Price.Round(pricePlaces)
		if !price.IsPositive() || price.GreaterThanOrEqual(one) {
			return nil, invalid(i, "price", "out_of_range")
		}
		amount := st.Amount.Round(amountPlaces)
		if !amount.IsPositive() {
			return nil, invalid(i, "amount", "must_be_positive")
		}
		if st.OffsetSeconds < 0 {
			return nil, invalid(i, "offsetSeconds", "must_not_be_negative")
		}
		out = append(out, TradeStep{
			Outcome:       outcome,
			Price:         price,
			Amount:        amount,
			OffsetSeconds: st.OffsetSeconds,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OffsetSeconds != b.OffsetSeconds {
			return a.OffsetSeconds < b.OffsetSeconds
		}
		if a.Outcome != b.Outcome {
			return a.Outcome < b.Outcome
		}
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c < 0
		}
		return a.Amount.LessThan(b.Amount)
	})
	return out, nil
}

// Canonical serializes already-normalized steps.
func Canonical(steps []TradeStep) ([]byte, error) {
	cs := make([]canonicalStep, 0, len(steps))
	for _, st := range steps {
		cs = append(cs, canonicalStep{
			Amount:        json.Number(st.Amount.String()),
			OffsetSeconds: st.OffsetSeconds,
			Outcome:       st.Outcome,
			Price:         json.Number(st.Price.String()),
		})
	}
	return json.Marshal(cs)
}

func Hash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func MaxAmount(steps []TradeStep) decimal.Decimal {
	total := decimal.Zero
	for _, st := range steps {
		total = total.Add(st.Amount)
	}
	return total
}

// Content is everything derived from a raw trade-step list.
type Content struct {
	Steps     []TradeStep
	JSON      []byte
	Hash      string
	MaxAmount decimal.Decimal
}

func Build(steps []TradeStep) (Content, error) {
	norm, err := Normalize(steps)
	if err != nil {
		return Content{}, err
	}
	canonical, err := Canonical(norm)
	if err != nil {
		return Content{}, err
	}
	return Content{
		Steps:     norm,
		JSON:      canonical,
		Hash:      Hash(canonical),
		MaxAmount: MaxAmount(norm),
	}, nil
}

// Parse decodes a JSON trade-step array, rejecting unknown fields.
func Parse(raw []byte) ([]TradeStep, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var steps []TradeStep
	if err := dec.Decode(&steps); err != nil {
		return nil, apperr.WithData(apperr.CodeStrategyInvalid, fmt.Sprintf("invalid trade steps: %v", err),
			InvalidStep{Index: -1, Field: "tradeSteps", Key: "invalid_json"})
	}
	return steps, nil
}

// BuildRaw is Parse followed by Build.
func BuildRaw(raw []byte) (Content, error) {
	steps, err := Parse(raw)
	if err != nil {
		return Content{}, err
	}
	return Build(steps)
}
