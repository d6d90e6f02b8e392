// Package plancatalog maps billing-provider price identifiers to token
// budgets. The catalog is static per process: built-in tiers overlaid with
// PLAN_LIMITS from configuration.
package plancatalog

import (
	"errors"
	"strings"

	"github.com/sparlo/tokengate/internal/config"
)

// Plan is one purchasable tier.
type Plan struct {
	PriceID     string `json:"price_id"`
	TokensLimit int64  `json:"tokens_limit"`
}

type Catalog interface {
	Lookup(priceID string) (Plan, error)
}

// ErrUnknownPlan rejects lifecycle events whose price id has no limit
// mapping. Such events must not be recorded as processed, so a corrected
// redelivery can still apply.
var ErrUnknownPlan = errors.New("unknown_plan")

// builtinLimits covers the shipped tiers; config overrides win.
var builtinLimits = map[string]int64{
	"price_starter": 1_000_000,
	"price_pro":     3_000_000,
	"price_scale":   10_000_000,
}

type catalog struct {
	limits map[string]int64
}

func New(cfg config.Config) Catalog {
	limits := make(map[string]int64, len(builtinLimits)+len(cfg.PlanLimits))
	for priceID, limit := range builtinLimits {
		limits[priceID] = limit
	}
	for priceID, limit := range cfg.PlanLimits {
		limits[priceID] = limit
	}
	return &catalog{limits: limits}
}

func (c *catalog) Lookup(priceID string) (Plan, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return Plan{}, ErrUnknownPlan
	}
	limit, ok := c.limits[priceID]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return Plan{PriceID: priceID, TokensLimit: limit}, nil
}
