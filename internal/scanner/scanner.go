// Package scanner turns external market research into trade candidates.
// Scanners carry no authority: every candidate still goes through the risk
// gate before an order is placed.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"polybot/internal/logger"
	"polybot/internal/pkg/convert"
	"polybot/internal/trade"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

type Scanner interface {
	Name() string
	Scan(ctx context.Context) ([]trade.Candidate, error)
}

// candidateSchema validates every entry of a candidate file.
const candidateSchema = `{
  "type": "object",
  "required": ["candidates"],
  "properties": {
    "candidates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["market_id", "side", "price"],
        "properties": {
          "market_id": {"type": "string", "minLength": 1},
          "side": {"type": "string", "enum": ["YES", "NO", "BUY_YES", "BUY_NO", "BOTH", "PAIRED", "yes", "no", "both", "paired"]},
          "token_ref": {"type": "string"},
          "question": {"type": "string"},
          "price": {"type": "number", "exclusiveMinimum": 0, "maximum": 2},
          "size_hint": {"type": "number", "minimum": 0},
          "edge": {"type": "number"},
          "odds": {"type": "number", "minimum": 0},
          "ceiling_usd": {"type": "number", "minimum": 0},
          "end_date": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("candidates.json", candidateSchema)

type candidateFile struct {
	Candidates []candidateEntry `yaml:"candidates"`
}

type candidateEntry struct {
	MarketID string  `yaml:"market_id"`
	Side     string  `yaml:"side"`
	TokenRef string  `yaml:"token_ref"`
	Question string  `yaml:"question"`
	Price    float64 `yaml:"price"`
	SizeHint float64 `yaml:"size_hint"`
	Edge     float64 `yaml:"edge"`
	Odds     float64 `yaml:"odds"`
	Ceiling  float64 `yaml:"ceiling_usd"`
	EndDate  string  `yaml:"end_date"`
}

// FileScanner reads candidates from a YAML file written by an external
// research job. The file is re-read on every Scan.
type FileScanner struct {
	name    string
	path    string
	ceiling float64
	log     logger.Component
}

func NewFileScanner(name, path string, ceiling float64) (*FileScanner, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("scanner requires a name")
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("scanner %s requires a path", name)
	}
	return &FileScanner{name: name, path: path, ceiling: ceiling, log: logger.With("scanner." + name)}, nil
}

func (s *FileScanner) Name() string { return s.name }

// Scan returns the candidates in the file. A missing file means nothing to
// propose; a malformed file is an error for this scanner only.
func (s *FileScanner) Scan(ctx context.Context) ([]trade.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Debugf("no candidate file at %s", s.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read candidates %s: %w", s.path, err)
	}
	return ParseCandidates(s.name, s.ceiling, raw)
}

// ParseCandidates decodes and validates a candidate document. strategy is
// stamped on every candidate; ceiling fills entries without their own.
func ParseCandidates(strategy string, ceiling float64, raw []byte) ([]trade.Candidate, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}
	if err := compiledSchema.Validate(normalizeYAML(generic)); err != nil {
		return nil, fmt.Errorf("candidate schema: %w", err)
	}

	var doc candidateFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}

	out := make([]trade.Candidate, 0, len(doc.Candidates))
	for i, e := range doc.Candidates {
		c, err := e.toCandidate(strategy, ceiling)
		if err != nil {
			return nil, fmt.Errorf("candidate %d (%s): %w", i, e.MarketID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (e candidateEntry) toCandidate(strategy string, ceiling float64) (trade.Candidate, error) {
	side, err := trade.ParseSide(e.Side)
	if err != nil {
		return trade.Candidate{}, err
	}
	if side.IsSingle() && strings.TrimSpace(e.TokenRef) == "" {
		return trade.Candidate{}, errors.New("single-sided candidate needs token_ref")
	}
	c := trade.Candidate{
		Strategy: strategy,
		MarketID: strings.TrimSpace(e.MarketID),
		Question: strings.TrimSpace(e.Question),
		TokenRef: strings.TrimSpace(e.TokenRef),
		Side:     side,
		Price:    e.Price,
		SizeHint: e.SizeHint,
		Edge:     e.Edge,
		Odds:     e.Odds,
		Ceiling:  e.Ceiling,
	}
	if c.Ceiling <= 0 {
		c.Ceiling = ceiling
	}
	if s := strings.TrimSpace(e.EndDate); s != "" {
		ts, err := parseDate(s)
		if err != nil {
			return trade.Candidate{}, err
		}
		c.EndDate = ts
	}
	return c, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad end_date %q", s)
}

// normalizeYAML converts yaml.v3 output into the JSON value model the schema
// validator expects: string map keys and float64 numbers.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeYAML(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeYAML(child)
		}
		return out
	case int, int64, uint64:
		return convert.ToFloat64(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
