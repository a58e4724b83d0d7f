package models

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/features"
)

// Transformer maps a legacy row onto a numeric vector.
type Transformer interface {
	Transform(row features.LegacyRow) ([]float64, error)
}

// Scaler rescales a transformed vector.
type Scaler interface {
	Scale(x []float64) ([]float64, error)
}

// Block kinds of a ColumnTransformer.
const (
	BlockPassthrough = "passthrough"
	BlockStandard    = "standard"
	BlockOneHot      = "onehot"
)

// TransformerBlock is one step of a ColumnTransformer.
type TransformerBlock struct {
	Kind    string   `json:"kind"`
	Columns []string `json:"columns"`

	// standard
	Mean  []float64 `json:"mean,omitempty"`
	Scale []float64 `json:"scale,omitempty"`

	// onehot
	Categories    [][]string `json:"categories,omitempty"`
	HandleUnknown string     `json:"handleUnknown,omitempty"` // "ignore" or "error"
}

// ColumnTransformer concatenates the output of its blocks in order.
type ColumnTransformer struct {
	Blocks []TransformerBlock `json:"blocks"`
}

// Validate checks block shapes.
func (c *ColumnTransformer) Validate() error {
	if len(c.Blocks) == 0 {
		return fmt.Errorf("column transformer has no blocks")
	}
	for i, b := range c.Blocks {
		switch b.Kind {
		case BlockPassthrough:
		case BlockStandard:
			if len(b.Mean) != len(b.Columns) || len(b.Scale) != len(b.Columns) {
				return fmt.Errorf("block %d: mean/scale length must match %d columns", i, len(b.Columns))
			}
		case BlockOneHot:
			if len(b.Categories) != len(b.Columns) {
				return fmt.Errorf("block %d: categories length must match %d columns", i, len(b.Columns))
			}
		default:
			return fmt.Errorf("block %d: unknown kind %q", i, b.Kind)
		}
	}
	return nil
}

// Dim returns the output vector length.
func (c *ColumnTransformer) Dim() int {
	n := 0
	for _, b := range c.Blocks {
		if b.Kind == BlockOneHot {
			for _, cats := range b.Categories {
				n += len(cats)
			}
			continue
		}
		n += len(b.Columns)
	}
	return n
}

// Vocabulary returns the categories of every one-hot column. Requests are
// held to this closed set; HandleUnknown only governs Transform.
func (c *ColumnTransformer) Vocabulary() features.Vocabulary {
	vocab := features.Vocabulary{}
	for _, b := range c.Blocks {
		if b.Kind != BlockOneHot {
			continue
		}
		for i, col := range b.Columns {
			vocab[col] = b.Categories[i]
		}
	}
	return vocab
}

// Transform implements Transformer.
func (c *ColumnTransformer) Transform(row features.LegacyRow) ([]float64, error) {
	out := make([]float64, 0, c.Dim())
	for _, b := range c.Blocks {
		for i, col := range b.Columns {
			v, ok := row.Lookup(col)
			if !ok {
				return nil, fmt.Errorf("column %q not present in row", col)
			}

			switch b.Kind {
			case BlockPassthrough, BlockStandard:
				if v.Categorical {
					return nil, fmt.Errorf("column %q: expected numeric value", col)
				}
				x := v.Num
				if b.Kind == BlockStandard {
					x = standardize(x, b.Mean[i], b.Scale[i])
				}
				out = append(out, x)

			case BlockOneHot:
				if !v.Categorical {
					return nil, fmt.Errorf("column %q: expected categorical value", col)
				}
				matched := false
				for _, cat := range b.Categories[i] {
					if cat == v.Str {
						out = append(out, 1)
						matched = true
					} else {
						out = append(out, 0)
					}
				}
				if !matched && b.HandleUnknown == "error" {
					return nil, fmt.Errorf("column %q: unknown category %q", col, v.Str)
				}
			}
		}
	}
	return out, nil
}

// StandardScaler applies (x - mean) / std per feature.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"scale"`
}

// Validate checks that mean and scale agree.
func (s *StandardScaler) Validate() error {
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Std) {
		return fmt.Errorf("scaler mean/scale lengths %d/%d invalid", len(s.Mean), len(s.Std))
	}
	return nil
}

// Dim returns the expected vector length.
func (s *StandardScaler) Dim() int {
	return len(s.Mean)
}

// Scale implements Scaler.
func (s *StandardScaler) Scale(x []float64) ([]float64, error) {
	if err := checkDim("scaler", s.Dim(), x); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = standardize(x[i], s.Mean[i], s.Std[i])
	}
	return out, nil
}

// standardize treats a zero scale as 1, matching how constant features
// were fitted.
func standardize(x, mean, scale float64) float64 {
	if scale == 0 {
		scale = 1
	}
	return (x - mean) / scale
}

func checkDim(artifact string, want int, x []float64) error {
	if len(x) != want {
		return fmt.Errorf("%s: expected %d features, got %d", artifact, want, len(x))
	}
	return nil
}
