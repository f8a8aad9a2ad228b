package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

// FileFetcher reads canonical records from JSON fixtures.
// Path is either a single file or a directory holding <TICKER>.json files.
type FileFetcher struct {
	Path string
}

// NewFileFetcher creates a fixture-backed fetcher
func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{Path: path}
}

// ProviderName implements Named
func (f *FileFetcher) ProviderName() string { return ProviderFile }

// Fetch implements Fetcher
func (f *FileFetcher) Fetch(ctx context.Context, ticker, period string) (*contracts.CanonicalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := f.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ticker+".json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fetchErr(ProviderFile, fmt.Errorf("read fixture: %w", err))
	}

	var rec contracts.CanonicalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fetchErr(ProviderFile, fmt.Errorf("decode fixture %s: %w", path, err))
	}
	if rec.Meta.Ticker != ticker {
		return nil, fetchErr(ProviderFile, fmt.Errorf("fixture %s holds %s, not %s", path, rec.Meta.Ticker, ticker))
	}
	return &rec, nil
}
