// SPDX-License-Identifier: MIT
package dct

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

var allTypes = []Type{TypeII, TypeIIOrtho, TypeIIScaled, TypeIII, TypeIIIOrtho}

func testInput(n int) []float64 {
	in := make([]float64, n)
	for i := range in {
		x := float64(i)
		in[i] = math.Sin(0.7*x+0.3) + 0.25*math.Cos(2.1*x) - 0.1*x
	}
	return in
}

func mustNew(t *testing.T, cfg Config) *DCT {
	t.Helper()
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v) error: %v", cfg, err)
	}
	return d
}

// closeRel compares with a relative tolerance, falling back to an absolute
// one near zero where cosine terms vanish.
func closeRel(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol*math.Max(1, math.Abs(want))
}

// expectedCoef evaluates one matrix entry from the textbook definitions.
func expectedCoef(cfg Config, i, j int) float64 {
	n := float64(cfg.NumInputs)
	switch cfg.Type {
	case TypeII:
		return 2 * math.Cos(math.Pi*float64(i)*(2*float64(j)+1)/(2*n))
	case TypeIIOrtho:
		f := math.Sqrt(2 / n)
		if i == 0 {
			f = math.Sqrt(1 / n)
		}
		return f * math.Cos(math.Pi*float64(i)*(2*float64(j)+1)/(2*n))
	case TypeIIScaled:
		return math.Sqrt(2/n) * math.Cos(math.Pi*float64(i)*(2*float64(j)+1)/(2*n))
	case TypeIII:
		k := float64(i)
		if cfg.RemoveDCTZero {
			k++
		}
		return 2 * math.Cos(math.Pi*float64(j)*(2*k+1)/(2*n))
	case TypeIIIOrtho:
		if j == 0 {
			return 1 / math.Sqrt(n)
		}
		return math.Sqrt(2/n) * math.Cos(math.Pi*float64(j)*(2*float64(i)+1)/(2*n))
	}
	panic("unreachable")
}

func TestCoefficientsMatchClosedForm(t *testing.T) {
	const n = 8

	configs := []Config{
		{NumFilters: n, NumInputs: n, Type: TypeII},
		{NumFilters: n, NumInputs: n, Type: TypeIIOrtho},
		{NumFilters: n, NumInputs: n, Type: TypeIIScaled},
		{NumFilters: n, NumInputs: n, Type: TypeIII},
		{NumFilters: n, NumInputs: n, Type: TypeIII, RemoveDCTZero: true},
		{NumFilters: n, NumInputs: n, Type: TypeIIIOrtho},
	}

	for _, cfg := range configs {
		name := cfg.Type.String()
		if cfg.RemoveDCTZero {
			name += "/remove-zero"
		}
		t.Run(name, func(t *testing.T) {
			d := mustNew(t, cfg)
			m := d.Coefficients()
			if len(m) != n*n {
				t.Fatalf("len(Coefficients()) = %d, want %d", len(m), n*n)
			}
			for i := range n {
				for j := range n {
					if cfg.Type == TypeIII && j == 0 {
						// Column 0 is not read by Process for plain DCT-III.
						continue
					}
					want := expectedCoef(cfg, i, j)
					if got := m[i*n+j]; !closeRel(got, want, 1e-5) {
						t.Errorf("M[%d,%d] = %.9f, want %.9f", i, j, got, want)
					}
				}
			}
		})
	}
}

func TestProcessMatchesReference(t *testing.T) {
	for _, typ := range allTypes {
		for _, filters := range []int{1, 5, 8, 13} {
			cfg := Config{NumFilters: filters, NumInputs: 13, Type: typ}
			t.Run(cfg.Type.String(), func(t *testing.T) {
				d := mustNew(t, cfg)
				in := testInput(cfg.NumInputs)

				got := make([]float64, filters)
				want := make([]float64, filters)
				if err := d.Process(in, got); err != nil {
					t.Fatalf("Process error: %v", err)
				}
				if err := Reference(cfg, in, want); err != nil {
					t.Fatalf("Reference error: %v", err)
				}
				for k := range got {
					if !closeRel(got[k], want[k], 1e-9) {
						t.Errorf("out[%d] = %.12f, reference %.12f", k, got[k], want[k])
					}
				}
			})
		}
	}

	t.Run("dct-iii/remove-zero", func(t *testing.T) {
		cfg := Config{NumFilters: 6, NumInputs: 8, Type: TypeIII, RemoveDCTZero: true}
		d := mustNew(t, cfg)
		in := testInput(8)
		got, want := make([]float64, 6), make([]float64, 6)
		d.Process(in, got)
		Reference(cfg, in, want)
		for k := range got {
			if !closeRel(got[k], want[k], 1e-9) {
				t.Errorf("out[%d] = %.12f, reference %.12f", k, got[k], want[k])
			}
		}
	})
}

func TestRoundTripOrtho(t *testing.T) {
	for _, n := range []int{1, 2, 8, 13, 40} {
		fwd := mustNew(t, Config{NumFilters: n, NumInputs: n, Type: TypeIIOrtho})
		inv := mustNew(t, Config{NumFilters: n, NumInputs: n, Type: TypeIIIOrtho})

		in := testInput(n)
		coefs := make([]float64, n)
		back := make([]float64, n)
		if err := fwd.Process(in, coefs); err != nil {
			t.Fatalf("forward Process error: %v", err)
		}
		if err := inv.Process(coefs, back); err != nil {
			t.Fatalf("inverse Process error: %v", err)
		}
		if !floats.EqualApprox(back, in, 1e-9) {
			t.Errorf("n=%d: round trip = %v, want %v", n, back, in)
		}

		// Orthonormal transforms preserve energy.
		if e0, e1 := floats.Dot(in, in), floats.Dot(coefs, coefs); !closeRel(e1, e0, 1e-9) {
			t.Errorf("n=%d: energy %.12f after DCT-II-ortho, want %.12f", n, e1, e0)
		}
	}
}

func TestAgreesWithQuarterWaveFFT(t *testing.T) {
	const n = 16
	qw := fourier.NewQuarterWaveFFT(n)
	in := testInput(n)

	// CosSequence computes 4*sum x[k] cos(pi*(2k+1)*i/2n), twice DCT-II.
	seq := qw.CosSequence(nil, in)
	floats.Scale(0.5, seq)

	ii := mustNew(t, Config{NumFilters: n, NumInputs: n, Type: TypeII})
	out := make([]float64, n)
	ii.Process(in, out)
	if !floats.EqualApprox(out, seq, 1e-9) {
		t.Errorf("DCT-II = %v\nquarter wave = %v", out, seq)
	}

	// CosCoefficients is the matching DCT-III.
	coef := qw.CosCoefficients(nil, in)
	iii := mustNew(t, Config{NumFilters: n, NumInputs: n, Type: TypeIII})
	iii.Process(in, out)
	if !floats.EqualApprox(out, coef, 1e-9) {
		t.Errorf("DCT-III = %v\nquarter wave = %v", out, coef)
	}
}

func TestConstantInput(t *testing.T) {
	const n = 10
	in := make([]float64, n)
	floats.AddConst(3, in)

	d := mustNew(t, Config{NumFilters: n, NumInputs: n, Type: TypeII})
	out := make([]float64, n)
	d.Process(in, out)

	if !closeRel(out[0], 2*n*3, 1e-12) {
		t.Errorf("DC term = %v, want %v", out[0], 2*n*3)
	}
	for k := 1; k < n; k++ {
		if math.Abs(out[k]) > 1e-9 {
			t.Errorf("out[%d] = %v, want 0 for constant input", k, out[k])
		}
	}
}

func TestRemoveDCTZeroShiftsRows(t *testing.T) {
	const n = 8
	plain := mustNew(t, Config{NumFilters: n - 1, NumInputs: n, Type: TypeIII})
	shifted := mustNew(t, Config{NumFilters: n - 1, NumInputs: n, Type: TypeIII, RemoveDCTZero: true})

	// Row i of the shifted matrix is row i+1 of the plain one.
	p, s := plain.Coefficients(), shifted.Coefficients()
	for i := 0; i < n-2; i++ {
		for j := 1; j < n; j++ {
			if !closeRel(s[i*n+j], p[(i+1)*n+j], 1e-12) {
				t.Fatalf("shifted M[%d,%d] = %v, plain M[%d,%d] = %v", i, j, s[i*n+j], i+1, j, p[(i+1)*n+j])
			}
		}
	}
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"remove zero on dct-ii", Config{NumFilters: 8, NumInputs: 8, Type: TypeII, RemoveDCTZero: true}, ErrRemoveDCTZero},
		{"remove zero on dct-ii-ortho", Config{NumFilters: 8, NumInputs: 8, Type: TypeIIOrtho, RemoveDCTZero: true}, ErrRemoveDCTZero},
		{"remove zero on dct-iii-ortho", Config{NumFilters: 8, NumInputs: 8, Type: TypeIIIOrtho, RemoveDCTZero: true}, ErrRemoveDCTZero},
		{"type out of range", Config{NumFilters: 8, NumInputs: 8, Type: Type(42)}, ErrUnsupportedType},
		{"negative type", Config{NumFilters: 8, NumInputs: 8, Type: Type(-1)}, ErrUnsupportedType},
		{"zero inputs", Config{NumFilters: 0, NumInputs: 0, Type: TypeII}, ErrInvalidSize},
		{"zero filters", Config{NumFilters: 0, NumInputs: 8, Type: TypeII}, ErrInvalidSize},
		{"more filters than inputs", Config{NumFilters: 9, NumInputs: 8, Type: TypeII}, ErrInvalidSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("New error = %v, want %v", err, tt.want)
			}
			if d != nil {
				t.Error("New returned a transform on error")
			}
			if err := Reference(tt.cfg, make([]float64, 16), make([]float64, 16)); !errors.Is(err, tt.want) {
				t.Errorf("Reference error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewWithBuffer(t *testing.T) {
	cfg := Config{NumFilters: 4, NumInputs: 6, Type: TypeIIScaled}

	short := make([]float64, cfg.CoefficientsLength()-1)
	floats.AddConst(-7, short)
	if _, err := NewWithBuffer(cfg, short); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("short buffer error = %v, want ErrBufferTooSmall", err)
	}
	for i, v := range short {
		if v != -7 {
			t.Fatalf("short buffer modified at %d", i)
		}
	}

	bad := cfg
	bad.RemoveDCTZero = true
	buf := make([]float64, 64)
	floats.AddConst(-7, buf)
	if _, err := NewWithBuffer(bad, buf); !errors.Is(err, ErrRemoveDCTZero) {
		t.Errorf("invalid config error = %v, want ErrRemoveDCTZero", err)
	}
	if buf[0] != -7 {
		t.Error("buffer written before configuration was validated")
	}

	d, err := NewWithBuffer(cfg, buf)
	if err != nil {
		t.Fatalf("NewWithBuffer error: %v", err)
	}
	if &d.Coefficients()[0] != &buf[0] {
		t.Error("coefficients do not alias the caller buffer")
	}
	if buf[cfg.CoefficientsLength()] != -7 {
		t.Error("NewWithBuffer wrote past the matrix")
	}
	ref := mustNew(t, cfg)
	if !floats.Equal(d.Coefficients(), ref.Coefficients()) {
		t.Error("caller-buffer matrix differs from New")
	}
}

func TestProcessShortBuffers(t *testing.T) {
	d := mustNew(t, Config{NumFilters: 4, NumInputs: 8, Type: TypeII})

	if err := d.Process(make([]float64, 7), make([]float64, 4)); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("short input error = %v, want ErrBufferTooSmall", err)
	}
	if err := d.Process(make([]float64, 8), make([]float64, 3)); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("short output error = %v, want ErrBufferTooSmall", err)
	}
	// Longer slices are fine; only the leading elements are used.
	if err := d.Process(make([]float64, 20), make([]float64, 20)); err != nil {
		t.Errorf("long buffers error = %v", err)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"dct-ii", TypeII, false},
		{"DCT-II-ORTHO", TypeIIOrtho, false},
		{"ii-scaled", TypeIIScaled, false},
		{" iii ", TypeIII, false},
		{"dct-iii-ortho", TypeIIIOrtho, false},
		{"dct-iv", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedType) {
					t.Errorf("error %v does not wrap ErrUnsupportedType", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseType(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if back, _ := ParseType(got.String()); back != got {
				t.Errorf("String/ParseType mismatch for %v", got)
			}
		})
	}
}

func TestProcessZeroAllocations(t *testing.T) {
	for _, typ := range allTypes {
		d := mustNew(t, Config{NumFilters: 13, NumInputs: 40, Type: typ})
		in := testInput(40)
		out := make([]float64, 13)

		allocs := testing.AllocsPerRun(50, func() {
			_ = d.Process(in, out)
		})
		if allocs > 0 {
			t.Errorf("%s: Expected zero allocations in Process, got %.1f", typ, allocs)
		}
	}
}

func BenchmarkProcess(b *testing.B) {
	d, err := New(Config{NumFilters: 13, NumInputs: 40, Type: TypeIIOrtho})
	if err != nil {
		b.Fatal(err)
	}
	in := testInput(40)
	out := make([]float64, 13)

	b.ReportAllocs()
	for b.Loop() {
		_ = d.Process(in, out)
	}
}

func BenchmarkReference(b *testing.B) {
	cfg := Config{NumFilters: 13, NumInputs: 40, Type: TypeIIOrtho}
	in := testInput(40)
	out := make([]float64, 13)

	for b.Loop() {
		_ = Reference(cfg, in, out)
	}
}
