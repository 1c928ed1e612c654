package apperr

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := Persistence("analysis.load", "decode bundle", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence kind")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("unexpected validation kind")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	wrapped := fmt.Errorf("startup: %w", err)
	if !IsKind(wrapped, KindPersistence) {
		t.Fatalf("expected IsKind through fmt wrapping")
	}
}

func TestUnitRange(t *testing.T) {
	for _, v := range []float64{0, 0.5, 1} {
		if err := UnitRange("test", "ratio", v); err != nil {
			t.Fatalf("UnitRange(%v): %v", v, err)
		}
	}
	for _, v := range []float64{-0.01, 1.01, math.NaN()} {
		if err := UnitRange("test", "ratio", v); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("UnitRange(%v) = %v, want configuration error", v, err)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	err := Configuration("config.validate", "analysis.anomaly_threshold must be within [0,1]")
	want := "config.validate: configuration error: analysis.anomaly_threshold must be within [0,1]"
	if err.Error() != want {
		t.Fatalf("message: got %q want %q", err.Error(), want)
	}
}
