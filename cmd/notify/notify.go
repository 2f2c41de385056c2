// Package notify sends a synthetic order event to a running engine.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ordersentry/ordersentry/internal/conf"
)

// Command returns a cobra command that posts a test order event to the HTTP
// ingest endpoint of a running engine.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		orderID      string
		orderNumber  string
		customerName string
		amount       float64
		addr         string
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test order event to a running engine",
		Long: `Send a synthetic order event through the HTTP ingest endpoint.

Examples:
  # Default test order
  ordersentry notify

  # Specific order
  ordersentry notify --order-id=ord-42 --order-number=1042 --customer="Jane Doe" --amount=23.50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = settings.HTTP.Listen
			}
			if orderID == "" {
				orderID = fmt.Sprintf("test-%d", time.Now().Unix())
			}

			payload, err := json.Marshal(map[string]any{
				"order_id":      orderID,
				"order_number":  orderNumber,
				"customer_name": customerName,
				"amount":        amount,
			})
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s/api/v1/events", addr)
			resp, err := http.Post(url, "application/json", bytes.NewReader(payload)) //nolint:noctx // one-shot CLI call
			if err != nil {
				return fmt.Errorf("posting event to %s: %w", url, err)
			}
			defer func() { _ = resp.Body.Close() }()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode >= 300 {
				return fmt.Errorf("engine returned %s: %s", resp.Status, body)
			}
			fmt.Printf("event accepted (%s): %s\n", resp.Status, body)
			return nil
		},
	}

	cmd.Flags().StringVar(&orderID, "order-id", "", "Order identifier (default: generated)")
	cmd.Flags().StringVar(&orderNumber, "order-number", "TEST", "Human-facing order number")
	cmd.Flags().StringVar(&customerName, "customer", "Test Customer", "Customer name")
	cmd.Flags().Float64Var(&amount, "amount", 9.99, "Order amount")
	cmd.Flags().StringVar(&addr, "addr", "", "Engine HTTP address (default: http.listen setting)")

	return cmd
}
