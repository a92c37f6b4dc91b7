package app

import (
	"context"
	"testing"
	"time"
)

func memoryConfig() Config {
	return Config{
		OutboxBatchSize:       100,
		OutboxMaxRetry:        5,
		ReservationTTL:        10 * time.Minute,
		PaymentErrorThreshold: 5,
		PaymentCooldown:       30 * time.Second,
	}
}

func TestNewDependencies_InMemoryMode(t *testing.T) {
	deps, err := NewDependencies(context.Background(), memoryConfig(), nil)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer deps.Close()

	if deps.Store != nil {
		t.Error("expected no postgres store without dsn")
	}
	if deps.Redis != nil {
		t.Error("expected no redis client without addr")
	}
	if deps.Tx == nil || deps.Orders == nil || deps.Outbox == nil {
		t.Fatal("expected core repositories to be wired")
	}
	if deps.Reservations == nil || deps.Resources == nil || deps.Processed == nil {
		t.Fatal("expected reservation repositories to be wired")
	}
	if deps.Lock == nil {
		t.Fatal("expected in-process lock executor")
	}
	if deps.Payments == nil {
		t.Fatal("expected payment service to be wired")
	}
	if deps.Health == nil {
		t.Fatal("expected health registry")
	}
	if deps.PaymentBreaker == nil {
		t.Fatal("expected payment breaker to be exposed")
	}
	if err := deps.Health.Check(context.Background(), "payments"); err != nil {
		t.Errorf("expected payments health check registered and healthy, got %v", err)
	}
}

func TestNewDependencies_PaymentsGoThroughBreaker(t *testing.T) {
	deps, err := NewDependencies(context.Background(), memoryConfig(), nil)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer deps.Close()

	// mock по умолчанию одобряет платежи
	if err := deps.Payments.Approve(context.Background(), "order-1", 1000, "RUB"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}
