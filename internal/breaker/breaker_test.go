package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var errProviderDown = errors.New("provider unavailable")

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := New("payments", WithThresholds(2, 1), WithCooldown(time.Minute))

	calls := 0
	fail := func(ctx context.Context) error {
		calls++
		return errProviderDown
	}

	for i := 0; i < 2; i++ {
		if err := b.Do(context.Background(), fail); !errors.Is(err, errProviderDown) {
			t.Fatalf("call %d: expected provider error, got %v", i, err)
		}
	}

	err := b.Do(context.Background(), fail)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected fn not to run after circuit opened, calls = %d", calls)
	}
}

func TestBreaker_DomainFailureDoesNotTrip(t *testing.T) {
	t.Parallel()

	b := New("payments", WithThresholds(2, 1), WithCooldown(time.Minute))

	calls := 0
	declined := func(ctx context.Context) error {
		calls++
		return domain.ErrPaymentDeclined
	}

	for i := 0; i < 5; i++ {
		if err := b.Do(context.Background(), declined); !errors.Is(err, domain.ErrPaymentDeclined) {
			t.Fatalf("call %d: expected ErrPaymentDeclined, got %v", i, err)
		}
	}
	if calls != 5 {
		t.Fatalf("expected every call to reach fn, calls = %d", calls)
	}
}

func TestBreaker_ClosesAfterCooldown(t *testing.T) {
	t.Parallel()

	b := New("payments", WithThresholds(1, 1), WithCooldown(20*time.Millisecond))

	err := b.Do(context.Background(), func(ctx context.Context) error {
		return errProviderDown
	})
	if !errors.Is(err, errProviderDown) {
		t.Fatalf("expected provider error, got %v", err)
	}
	err = b.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen while cooling down, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := b.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected call to pass after cooldown, got %v", err)
	}
	if err := b.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected circuit to stay closed, got %v", err)
	}
}

func TestBreaker_CancelledContextCountsAsFailure(t *testing.T) {
	t.Parallel()

	b := New("payments", WithThresholds(1, 1), WithCooldown(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := b.Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected fn to be skipped on cancelled context, calls = %d", calls)
	}
}

type flakyPayments struct {
	approveErr error
	refundErr  error

	approveCalls int
	refundCalls  int
}

func (s *flakyPayments) Approve(ctx context.Context, orderID string, amountMinor int64, currency string) error {
	s.approveCalls++
	return s.approveErr
}

func (s *flakyPayments) Refund(ctx context.Context, orderID string, amountMinor int64, currency string) error {
	s.refundCalls++
	return s.refundErr
}

func TestPaymentService_SharesBreakerAcrossOperations(t *testing.T) {
	t.Parallel()

	inner := &flakyPayments{approveErr: errProviderDown}
	wrapped := WrapPayment(inner, New("payments", WithThresholds(2, 1), WithCooldown(time.Minute)))

	for i := 0; i < 2; i++ {
		if err := wrapped.Approve(context.Background(), "order-1", 1500, "RUB"); !errors.Is(err, errProviderDown) {
			t.Fatalf("approve %d: expected provider error, got %v", i, err)
		}
	}

	if err := wrapped.Refund(context.Background(), "order-1", 1500, "RUB"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected refund to be rejected by shared breaker, got %v", err)
	}
	if inner.refundCalls != 0 {
		t.Fatalf("expected refund not to reach provider, calls = %d", inner.refundCalls)
	}
}

func TestPaymentService_DeclinePassesThrough(t *testing.T) {
	t.Parallel()

	inner := &flakyPayments{approveErr: domain.ErrPaymentDeclined}
	wrapped := WrapPayment(inner, New("payments"))

	if err := wrapped.Approve(context.Background(), "order-2", 900, "RUB"); !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
	if inner.approveCalls != 1 {
		t.Fatalf("expected one provider call, got %d", inner.approveCalls)
	}
}

func TestBreaker_RecordFailureOpensCircuit(t *testing.T) {
	t.Parallel()

	b := New("payments", WithThresholds(2, 1), WithCooldown(time.Minute))

	// Сбои, найденные фоновым health-опросом, открывают цепь так же,
	// как упавшие боевые вызовы.
	b.RecordFailure()
	b.RecordFailure()

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected fn not to run, calls = %d", calls)
	}
}

func TestBreaker_RecordFailureMixesWithCallFailures(t *testing.T) {
	t.Parallel()

	b := New("payments", WithThresholds(2, 1), WithCooldown(time.Minute))

	if err := b.Do(context.Background(), func(ctx context.Context) error {
		return errProviderDown
	}); !errors.Is(err, errProviderDown) {
		t.Fatalf("expected provider error, got %v", err)
	}
	b.RecordFailure()

	err := b.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
