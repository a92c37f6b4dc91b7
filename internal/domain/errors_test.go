package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "order version conflict",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "resource version conflict",
			err:  ErrResourceVersionConflict,
			want: true,
		},
		{
			name: "wrapped conflict",
			err:  fmt.Errorf("save order: %w", ErrOrderVersionConflict),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsVersionConflict(tc.err); got != tc.want {
				t.Fatalf("IsVersionConflict(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsDomainFailure(t *testing.T) {
	domainFailures := []error{
		ErrReservationConflict,
		ErrReservationConfirmed,
		ErrReservationCancelled,
		ErrInsufficientResource,
		ErrPaymentDeclined,
		ErrOrderTransitionInvalid,
		ErrEventAlreadyProcessed,
	}
	for _, err := range domainFailures {
		if !IsDomainFailure(err) {
			t.Errorf("expected %v to be a domain failure", err)
		}
		if !IsDomainFailure(fmt.Errorf("context: %w", err)) {
			t.Errorf("expected wrapped %v to be a domain failure", err)
		}
	}

	infraErrors := []error{
		errors.New("connection refused"),
		ErrOrderVersionConflict,
		ErrPaymentTemporary,
		ErrCircuitOpen,
		ErrLockNotAcquired,
		nil,
	}
	for _, err := range infraErrors {
		if IsDomainFailure(err) {
			t.Errorf("expected %v not to be a domain failure", err)
		}
	}
}
