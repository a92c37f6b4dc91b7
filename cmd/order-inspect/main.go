// order-inspect выводит заказы клиента с текущим статусом саги. Применяется
// при разборе инцидентов: видно, на каком шаге заказ застрял и с какой
// причиной он был отменён.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

func main() {
	var (
		dsn      string
		customer string
		limit    int
	)

	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: FF_POSTGRES_DSN)")
	flag.StringVar(&customer, "customer", "", "customer id to list orders for")
	flag.IntVar(&limit, "limit", 20, "max number of orders to print")
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("FF_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("FF_POSTGRES_DSN (or -dsn) is required")
	}
	if strings.TrimSpace(customer) == "" {
		fail("-customer is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := printOrders(ctx, os.Stdout, postgres.NewOrderRepository(store), customer, limit); err != nil {
		fail("list orders: %v", err)
	}
}

// printOrders печатает заказы клиента новые-первыми в табличном виде.
func printOrders(ctx context.Context, w io.Writer, repo domain.OrderRepository, customerID string, limit int) error {
	orders, err := repo.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		return fmt.Errorf("list orders for %s: %w", customerID, err)
	}
	if len(orders) == 0 {
		_, err := fmt.Fprintf(w, "no orders found for customer %s\n", customerID)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tSTATUS\tPRODUCT\tQTY\tAMOUNT\tCREATED\tERROR")
	for _, order := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d %s\t%s\t%s\n",
			order.ID,
			order.Status,
			order.ProductID,
			order.Quantity,
			order.AmountMinor,
			order.Currency,
			order.CreatedAt.Format(time.RFC3339),
			order.ErrorReason,
		)
	}
	return tw.Flush()
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
