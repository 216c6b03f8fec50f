// SPDX-License-Identifier: MIT
/*
Package dct generates and applies discrete cosine transform matrices.

A DCT is built once from a Config: New (or NewWithBuffer, for a caller owned
coefficient slice) fills a NumFilters x NumInputs row-major matrix and Process
applies it as a matrix-vector product. The matrix is never modified after
construction, so one DCT may be shared by any number of goroutines calling
Process. Reconfiguring means building a new DCT.

Supported variants, with N = NumInputs, i the output index and j the input
index:

	TypeII        M[i,j] = 2 cos(pi/N (j+0.5) i)
	TypeIIOrtho   TypeII scaled by sqrt(1/4N) on row 0 and 1/sqrt(2N) elsewhere
	TypeIIScaled  TypeII scaled by 1/sqrt(2N) on every row
	TypeIII       M[i,j] = 2 cos(pi/N (i+shift+0.5) j), input 0 weighted by 1
	TypeIIIOrtho  sqrt(2/N) cos(pi/N (i+0.5) j), input 0 weighted by 1/sqrt(N)

shift is 1 when RemoveDCTZero is set, which is only legal for TypeIII.
TypeIIOrtho followed by TypeIIIOrtho reconstructs the input.
*/
package dct

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Type selects the cosine transform variant.
type Type int

const (
	TypeII Type = iota
	TypeIIOrtho
	TypeIIScaled
	TypeIII
	TypeIIIOrtho
)

var typeNames = [...]string{
	TypeII:       "dct-ii",
	TypeIIOrtho:  "dct-ii-ortho",
	TypeIIScaled: "dct-ii-scaled",
	TypeIII:      "dct-iii",
	TypeIIIOrtho: "dct-iii-ortho",
}

func (t Type) String() string {
	if t.valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func (t Type) valid() bool {
	return t >= TypeII && t <= TypeIIIOrtho
}

// ParseType converts a variant name such as "dct-ii-ortho" (case
// insensitive, the "dct-" prefix optional) to a Type.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "dct-") {
		name = "dct-" + name
	}
	for t, n := range typeNames {
		if n == name {
			return Type(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

var (
	ErrUnsupportedType = errors.New("dct: unsupported transform type")
	ErrRemoveDCTZero   = errors.New("dct: RemoveDCTZero is only valid for DCT-III")
	ErrInvalidSize     = errors.New("dct: invalid dimensions")
	ErrBufferTooSmall  = errors.New("dct: buffer too small")
)

// Config describes a transform. NumFilters is the output length and must not
// exceed NumInputs.
type Config struct {
	NumFilters    int
	NumInputs     int
	Type          Type
	RemoveDCTZero bool
}

// Validate reports the first configuration error, if any.
func (c Config) Validate() error {
	if !c.Type.valid() {
		return fmt.Errorf("%w: %d", ErrUnsupportedType, int(c.Type))
	}
	if c.RemoveDCTZero && c.Type != TypeIII {
		return fmt.Errorf("%w (type %s)", ErrRemoveDCTZero, c.Type)
	}
	if c.NumInputs < 1 || c.NumFilters < 1 {
		return fmt.Errorf("%w: %d filters, %d inputs", ErrInvalidSize, c.NumFilters, c.NumInputs)
	}
	if c.NumFilters > c.NumInputs {
		return fmt.Errorf("%w: %d filters exceed %d inputs", ErrInvalidSize, c.NumFilters, c.NumInputs)
	}
	return nil
}

// CoefficientsLength returns the matrix size New allocates.
func (c Config) CoefficientsLength() int {
	return c.NumFilters * c.NumInputs
}

// DCT is an immutable, precomputed transform.
type DCT struct {
	cfg   Config
	coefs []float64
}

// New validates cfg and builds the coefficient matrix.
func New(cfg Config) (*DCT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return build(cfg, make([]float64, cfg.CoefficientsLength())), nil
}

// NewWithBuffer is New writing the matrix into buf, which must hold at least
// cfg.CoefficientsLength() elements. buf is left untouched on error.
func NewWithBuffer(cfg Config, buf []float64) (*DCT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.CoefficientsLength()
	if len(buf) < n {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrBufferTooSmall, len(buf), n)
	}
	return build(cfg, buf[:n:n]), nil
}

func build(cfg Config, m []float64) *DCT {
	n := cfg.NumInputs
	fn := float64(n)

	shift := 0.0
	if cfg.RemoveDCTZero {
		shift = 1
	}

	for i := range cfg.NumFilters {
		row := m[i*n : (i+1)*n]
		fi := float64(i)

		switch cfg.Type {
		case TypeII, TypeIIOrtho, TypeIIScaled:
			scale := 2.0
			switch {
			case cfg.Type == TypeIIOrtho && i == 0:
				scale *= math.Sqrt(1 / (4 * fn))
			case cfg.Type != TypeII:
				scale *= 1 / math.Sqrt(2*fn)
			}
			for j := range row {
				row[j] = scale * math.Cos(math.Pi/fn*(float64(j)+0.5)*fi)
			}

		case TypeIII:
			for j := range row {
				row[j] = 2 * math.Cos(math.Pi/fn*(fi+shift+0.5)*float64(j))
			}

		case TypeIIIOrtho:
			row[0] = 1 / math.Sqrt(fn)
			norm := math.Sqrt(2 / fn)
			for j := 1; j < n; j++ {
				row[j] = norm * math.Cos(math.Pi/fn*(fi+0.5)*float64(j))
			}
		}
	}

	return &DCT{cfg: cfg, coefs: m}
}

// Config returns the configuration the transform was built from.
func (d *DCT) Config() Config {
	return d.cfg
}

// Coefficients returns the row-major matrix. The slice is shared and must not
// be modified.
func (d *DCT) Coefficients() []float64 {
	return d.coefs
}

// Process writes the transform of in[:NumInputs] to out[:NumFilters]. It does
// not allocate.
func (d *DCT) Process(in, out []float64) error {
	n, k := d.cfg.NumInputs, d.cfg.NumFilters
	if len(in) < n || len(out) < k {
		return ErrBufferTooSmall
	}
	in = in[:n]

	switch d.cfg.Type {
	case TypeII, TypeIIScaled:
		for i := range k {
			out[i] = floats.Dot(in, d.coefs[i*n:(i+1)*n])
		}

	case TypeIIOrtho:
		out[0] = d.coefs[0] * floats.Sum(in)
		for i := 1; i < k; i++ {
			out[i] = floats.Dot(in, d.coefs[i*n:(i+1)*n])
		}

	case TypeIII, TypeIIIOrtho:
		for i := range k {
			row := d.coefs[i*n : (i+1)*n]
			c0 := 1.0
			if d.cfg.Type == TypeIIIOrtho {
				c0 = row[0]
			}
			out[i] = in[0]*c0 + floats.Dot(in[1:], row[1:])
		}
	}
	return nil
}

// Reference evaluates the transform described by cfg directly from the cosine
// sums without a coefficient matrix. It is O(NumFilters*NumInputs) trig calls
// per invocation and exists to cross-check Process.
func Reference(cfg Config, in, out []float64) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	n, k := cfg.NumInputs, cfg.NumFilters
	if len(in) < n || len(out) < k {
		return ErrBufferTooSmall
	}
	fn := float64(n)

	for i := range k {
		fi := float64(i)
		var sum float64

		switch cfg.Type {
		case TypeII, TypeIIOrtho, TypeIIScaled:
			for j := range n {
				sum += in[j] * math.Cos(math.Pi*fi*(2*float64(j)+1)/(2*fn))
			}
			sum *= 2
			switch {
			case cfg.Type == TypeIIOrtho && i == 0:
				sum *= math.Sqrt(1 / (4 * fn))
			case cfg.Type != TypeII:
				sum *= math.Sqrt(1 / (2 * fn))
			}

		case TypeIII:
			shift := 0.0
			if cfg.RemoveDCTZero {
				shift = 1
			}
			for j := 1; j < n; j++ {
				sum += in[j] * math.Cos(math.Pi*float64(j)*(2*(fi+shift)+1)/(2*fn))
			}
			sum = in[0] + 2*sum

		case TypeIIIOrtho:
			for j := 1; j < n; j++ {
				sum += in[j] * math.Cos(math.Pi*float64(j)*(2*fi+1)/(2*fn))
			}
			sum = in[0]/math.Sqrt(fn) + math.Sqrt(2/fn)*sum
		}

		out[i] = sum
	}
	return nil
}
