package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

const (
	rawSuffix     = "_raw.json"
	metricsSuffix = "_metrics.json"
	stampLayout   = "20060102_150405"
	maxNameTries  = 100
)

// FileSink writes each run as <TICKER>_<stamp>_raw.json (the Layer 1
// canonical record) and <TICKER>_<stamp>_metrics.json (the RunRecord with the
// Layer 1 payload left out). Existing files are never overwritten.
type FileSink struct {
	dir    string
	logger *logger.Logger
}

// NewFileSink creates a sink rooted at dir
func NewFileSink(dir string, log *logger.Logger) *FileSink {
	return &FileSink{dir: dir, logger: log}
}

// Dir returns the sink's root directory
func (s *FileSink) Dir() string {
	return s.dir
}

// Save implements pipeline.Sink
func (s *FileSink) Save(ctx context.Context, rec *pipeline.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}

	metrics, err := json.MarshalIndent(metricsDocument(rec), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	var raw []byte
	if res, ok := rec.Result(contracts.StageDataFetch); ok && res.OK() {
		if raw, err = json.MarshalIndent(res.Payload, "", "  "); err != nil {
			return fmt.Errorf("marshal raw record: %w", err)
		}
	}

	base, err := s.writeExclusive(rec, metrics)
	if err != nil {
		return err
	}
	if raw != nil {
		if err := createExclusive(filepath.Join(s.dir, base+rawSuffix), raw); err != nil {
			return err
		}
	}

	s.logger.WithRun(rec.RunID, rec.Ticker).
		WithField("file", base+metricsSuffix).
		Debug("Run record saved")
	return nil
}

// metricsDocument is a copy of rec without Layer 1 payloads; raw provider
// data lives only in the _raw.json file.
func metricsDocument(rec *pipeline.RunRecord) *pipeline.RunRecord {
	doc := *rec
	doc.Results = make([]contracts.StageResult, len(rec.Results))
	for i, res := range rec.Results {
		if res.Stage.Layer() == 1 {
			res.Payload = nil
		}
		doc.Results[i] = res
	}
	return &doc
}

// writeExclusive claims the first free <TICKER>_<stamp>[_n] base name
func (s *FileSink) writeExclusive(rec *pipeline.RunRecord, data []byte) (string, error) {
	stem := fmt.Sprintf("%s_%s", fileTicker(rec.Ticker), rec.StartTime.UTC().Format(stampLayout))

	for i := 0; i < maxNameTries; i++ {
		base := stem
		if i > 0 {
			base = fmt.Sprintf("%s_%d", stem, i)
		}
		err := createExclusive(filepath.Join(s.dir, base+metricsSuffix), data)
		if err == nil {
			return base, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free file name for %s", stem)
}

func createExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func fileTicker(t string) string {
	if t == "" {
		return "UNKNOWN"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, t)
}

// LoadRecord reads a *_metrics.json file
func LoadRecord(path string) (*pipeline.RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run record: %w", err)
	}
	var rec pipeline.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// ListDir returns summaries of every run in dir, newest first. Unreadable
// files are skipped.
func ListDir(dir string, log *logger.Logger) ([]Summary, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+metricsSuffix))
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(paths))
	for _, p := range paths {
		rec, err := LoadRecord(p)
		if err != nil {
			log.WithError(err).Warn("Skipping unreadable run record")
			continue
		}
		out = append(out, Summarize(rec))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}
