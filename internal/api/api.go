// Package api exposes the operator-facing REST surface of the alert engine.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordersentry/ordersentry/internal/alert"
	"github.com/ordersentry/ordersentry/internal/errors"
	"github.com/ordersentry/ordersentry/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Controller wires the HTTP routes to the alert dispatcher.
type Controller struct {
	echo       *echo.Echo
	dispatcher *alert.Dispatcher
	bridge     *alert.Bridge
	registry   *prometheus.Registry
	logger     *slog.Logger
	listen     string
}

// New creates the API controller. The prometheus registry may be nil, in
// which case /metrics is not mounted.
func New(dispatcher *alert.Dispatcher, bridge *alert.Bridge, registry *prometheus.Registry, listen string) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	c := &Controller{
		echo:       e,
		dispatcher: dispatcher,
		bridge:     bridge,
		registry:   registry,
		logger:     logging.ForService("api"),
		listen:     listen,
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.echo.GET("/healthz", c.health)
	if c.registry != nil {
		c.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})))
	}

	v1 := c.echo.Group("/api/v1")
	v1.GET("/alerts", c.listAlerts)
	v1.GET("/alerts/count", c.countUnacknowledged)
	v1.GET("/alerts/:orderID", c.getAlert)
	v1.POST("/alerts/test", c.testAlert)
	v1.POST("/orders/:orderID/acknowledge", c.acknowledge)
	v1.POST("/orders/:orderID/dismiss", c.dismiss)
	v1.POST("/events", c.ingestEvent)
	v1.POST("/reentry", c.reentry)
}

// Start runs the HTTP server until the context is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := c.echo.Start(c.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	c.logger.Info("api listening", "addr", c.listen)

	select {
	case err := <-errCh:
		return errors.New(err).
			Component("api").
			Category(errors.CategoryHTTP).
			Context("listen", c.listen).
			Build()
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return c.echo.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for httptest.
func (c *Controller) Handler() http.Handler {
	return c.echo
}

type alertResponse struct {
	OrderID               string    `json:"order_id"`
	OrderNumber           string    `json:"order_number"`
	CustomerName          string    `json:"customer_name"`
	Amount                float64   `json:"amount"`
	CreatedAt             time.Time `json:"created_at"`
	State                 string    `json:"state"`
	EscalationLevel       int       `json:"escalation_level"`
	ActiveNotificationIDs []string  `json:"active_notification_ids,omitzero"`
}

func toAlertResponse(a *alert.OrderAlert) alertResponse {
	return alertResponse{
		OrderID:               a.OrderID,
		OrderNumber:           a.OrderNumber,
		CustomerName:          a.CustomerName,
		Amount:                a.Amount,
		CreatedAt:             a.CreatedAt,
		State:                 string(a.State),
		EscalationLevel:       a.EscalationLevel,
		ActiveNotificationIDs: a.ActiveNotificationIDs,
	}
}

func (c *Controller) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// listAlerts returns tracked alerts, all of them or only pending ones when
// ?active=true.
func (c *Controller) listAlerts(ctx echo.Context) error {
	var alerts []*alert.OrderAlert
	if ctx.QueryParam("active") == "true" {
		alerts = c.dispatcher.Active()
	} else {
		alerts = c.dispatcher.All()
	}

	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}
	return ctx.JSON(http.StatusOK, out)
}

// countUnacknowledged reports how many alerts still await operator action,
// for badge counts and monitoring probes.
func (c *Controller) countUnacknowledged(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]int{
		"unacknowledged": len(c.dispatcher.Active()),
	})
}

func (c *Controller) getAlert(ctx echo.Context) error {
	a, err := c.dispatcher.Get(ctx.Param("orderID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no alert for order")
	}
	return ctx.JSON(http.StatusOK, toAlertResponse(a))
}

func (c *Controller) acknowledge(ctx echo.Context) error {
	orderID := ctx.Param("orderID")
	if err := c.dispatcher.Acknowledge(ctx.Request().Context(), orderID); err != nil {
		c.logger.Error("acknowledge failed", "order_id", orderID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "acknowledge failed")
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"order_id": orderID,
		"state":    string(alert.StateAcknowledged),
	})
}

func (c *Controller) dismiss(ctx echo.Context) error {
	orderID := ctx.Param("orderID")
	if err := c.dispatcher.Dismiss(ctx.Request().Context(), orderID); err != nil {
		c.logger.Error("dismiss failed", "order_id", orderID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "dismiss failed")
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"order_id": orderID,
		"state":    string(alert.StateDismissed),
	})
}

type eventRequest struct {
	OrderID      string  `json:"order_id"`
	OrderNumber  string  `json:"order_number"`
	CustomerName string  `json:"customer_name"`
	Amount       float64 `json:"amount"`
}

// ingestEvent accepts an order event over HTTP, for deployments without an
// MQTT broker.
func (c *Controller) ingestEvent(ctx echo.Context) error {
	var req eventRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}

	ev := alert.OrderEvent{
		OrderID:      req.OrderID,
		OrderNumber:  req.OrderNumber,
		CustomerName: req.CustomerName,
		Amount:       req.Amount,
		CreatedAt:    time.Now(),
	}

	a, err := c.dispatcher.Send(ctx.Request().Context(), ev)
	switch {
	case err != nil && a == nil && errors.Is(err, alert.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	case err != nil && a == nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		// Delivery degraded but the alert is recorded and escalation armed.
		return ctx.JSON(http.StatusAccepted, toAlertResponse(a))
	default:
		return ctx.JSON(http.StatusCreated, toAlertResponse(a))
	}
}

// reentry feeds a raw background payload through the bridge, the same path a
// host scheduler uses when it wakes the process for a deferred tier check.
func (c *Controller) reentry(ctx echo.Context) error {
	var payload map[string]any
	if err := ctx.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reentry payload")
	}
	if err := c.bridge.Handle(ctx.Request().Context(), payload); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return ctx.NoContent(http.StatusNoContent)
}

// testAlert dispatches a synthetic order event so operators can verify the
// full pipeline end to end.
func (c *Controller) testAlert(ctx echo.Context) error {
	ev := alert.OrderEvent{
		OrderID:      "test-" + time.Now().Format("150405"),
		OrderNumber:  "TEST",
		CustomerName: "Test Customer",
		Amount:       1.00,
		CreatedAt:    time.Now(),
	}
	a, err := c.dispatcher.Send(ctx.Request().Context(), ev)
	if err != nil && a == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ctx.JSON(http.StatusCreated, toAlertResponse(a))
}
