package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func seedOrder(t *testing.T, repo domain.OrderRepository, id, customer string, status domain.OrderStatus, createdAt time.Time) {
	t.Helper()
	err := repo.Create(context.Background(), domain.Order{
		ID:          id,
		CustomerID:  customer,
		ProductID:   "sku-1",
		Quantity:    2,
		AmountMinor: 1500,
		Currency:    "RUB",
		Status:      status,
		CreatedAt:   createdAt,
	})
	if err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
}

func TestPrintOrders_ListsCustomerOrdersNewestFirst(t *testing.T) {
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedOrder(t, repo, "order-1", "cust-1", domain.OrderStatusDelivered, base)
	seedOrder(t, repo, "order-2", "cust-1", domain.OrderStatusPlaced, base.Add(time.Hour))
	seedOrder(t, repo, "order-3", "cust-2", domain.OrderStatusPlaced, base)

	var buf bytes.Buffer
	if err := printOrders(context.Background(), &buf, repo, "cust-1", 10); err != nil {
		t.Fatalf("printOrders: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "order-3") {
		t.Errorf("output contains another customer's order:\n%s", out)
	}
	first := strings.Index(out, "order-2")
	second := strings.Index(out, "order-1")
	if first < 0 || second < 0 {
		t.Fatalf("expected both orders in output:\n%s", out)
	}
	if first > second {
		t.Errorf("expected newest order first:\n%s", out)
	}
}

func TestPrintOrders_RespectsLimit(t *testing.T) {
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedOrder(t, repo, "order-"+string(rune('a'+i)), "cust-1", domain.OrderStatusPlaced, base.Add(time.Duration(i)*time.Minute))
	}

	var buf bytes.Buffer
	if err := printOrders(context.Background(), &buf, repo, "cust-1", 2); err != nil {
		t.Fatalf("printOrders: %v", err)
	}

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n")
	// заголовок + 2 строки заказов
	if lines != 2 {
		t.Errorf("expected header and 2 orders, got output:\n%s", buf.String())
	}
}

func TestPrintOrders_EmptyResult(t *testing.T) {
	repo := memory.NewOrderRepository()

	var buf bytes.Buffer
	if err := printOrders(context.Background(), &buf, repo, "cust-9", 10); err != nil {
		t.Fatalf("printOrders: %v", err)
	}
	if !strings.Contains(buf.String(), "no orders found") {
		t.Errorf("expected empty-result message, got:\n%s", buf.String())
	}
}
