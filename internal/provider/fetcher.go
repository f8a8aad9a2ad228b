// Package provider fetches market data from external sources and normalizes
// it into the canonical record consumed by the metric stages.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

// Provider names
const (
	ProviderYahoo     = "yahoo"
	ProviderMarketAux = "marketaux"
	ProviderFile      = "file"
	ProviderCache     = "cache"
)

var (
	ErrNoData        = errors.New("provider returned no data")
	ErrMissingAPIKey = errors.New("provider api key not configured")
)

// Fetcher returns the canonical record for a ticker over a lookback period
type Fetcher interface {
	Fetch(ctx context.Context, ticker, period string) (*contracts.CanonicalRecord, error)
}

// Named is implemented by fetchers that report which provider they front
type Named interface {
	ProviderName() string
}

// NameOf returns the provider name, or "unknown"
func NameOf(f Fetcher) string {
	if n, ok := f.(Named); ok {
		return n.ProviderName()
	}
	return "unknown"
}

// FetchError wraps a provider failure
type FetchError struct {
	Provider string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fetchErr(provider string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Provider: provider, Err: err}
}
