package payment

import (
	"context"
	"errors"
	"testing"
)

func TestMockService(t *testing.T) {
	mock := NewMockService()
	if mock == nil {
		t.Fatal("expected non-nil mock")
	}

	if err := mock.Approve(context.Background(), "o-1", 100, "USD"); err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}
	if err := mock.Refund(context.Background(), "o-1", 100, "USD"); err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}

	mock.ApproveErr = errors.New("approve failed")
	mock.RefundErr = errors.New("refund failed")

	if err := mock.Approve(context.Background(), "o-2", 100, "USD"); err == nil {
		t.Fatal("expected approve error")
	}
	if err := mock.Refund(context.Background(), "o-2", 100, "USD"); err == nil {
		t.Fatal("expected refund error")
	}

	if mock.ApproveCalls != 2 || mock.RefundCalls != 2 {
		t.Fatalf("unexpected call counters: approve=%d refund=%d", mock.ApproveCalls, mock.RefundCalls)
	}
}
