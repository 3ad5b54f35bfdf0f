package e

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestRefinedSentinels(t *testing.T) {
	for _, err := range []error{ErrInvalidCoordinates, ErrInvalidRadius, ErrInvalidStatus, ErrInvalidTransition} {
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%v should be an invalid argument", err)
		}
	}
	if errors.Is(ErrInvalidStatus, ErrInvalidRadius) {
		t.Error("refinements must not match each other")
	}
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"deadline", context.DeadlineExceeded, ErrDeadline},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), ErrCanceled},
		{"keeps sentinel", fmt.Errorf("load: %w", ErrInvalidStatus), ErrInvalidStatus},
		{"unknown", errors.New("disk I/O error"), ErrStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapError("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("WrapError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if WrapError("op", nil) != nil {
		t.Error("expected nil for nil error")
	}
}
