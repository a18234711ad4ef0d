// Package customer looks up a customer's order history in the shop backend.
package customer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/retry"
)

// ErrNotConfigured is returned by the disabled lookup.
var ErrNotConfigured = errors.New("customer lookup not configured")

// Lookup is the order/customer collaborator.
type Lookup interface {
	// FindRecentOrder returns nil when the customer has no orders.
	FindRecentOrder(ctx context.Context, email string) (*domain.OrderRef, error)
	ClassifyCustomer(ctx context.Context, email string) (domain.CustomerClass, error)
}

// New returns a Shopify-backed Lookup, or a disabled one when the store is not configured.
func New(cfg config.ShopifyConfig, logger *zap.Logger) Lookup {
	if strings.TrimSpace(cfg.StoreDomain) == "" || cfg.AccessToken == "" {
		return disabled{}
	}
	return NewShopifyClient(cfg, logger)
}

type disabled struct{}

func (disabled) FindRecentOrder(context.Context, string) (*domain.OrderRef, error) {
	return nil, ErrNotConfigured
}

func (disabled) ClassifyCustomer(context.Context, string) (domain.CustomerClass, error) {
	return domain.CustomerClass{}, ErrNotConfigured
}

// ShopifyClient implements Lookup against the Shopify Admin REST API.
type ShopifyClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Config
	logger     *zap.Logger
}

// NewShopifyClient builds the client. Shopify allows two REST calls per second per store.
func NewShopifyClient(cfg config.ShopifyConfig, logger *zap.Logger) *ShopifyClient {
	domainName := strings.TrimSuffix(strings.TrimSpace(cfg.StoreDomain), "/")
	if !strings.HasPrefix(domainName, "http") {
		domainName = "https://" + domainName
	}
	return &ShopifyClient{
		baseURL:    fmt.Sprintf("%s/admin/api/%s", domainName, cfg.APIVersion),
		token:      cfg.AccessToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		retry:      retry.DefaultConfig(),
		logger:     logger,
	}
}

type shopifyOrder struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	CreatedAt         time.Time  `json:"created_at"`
	FinancialStatus   string     `json:"financial_status"`
	FulfillmentStatus *string    `json:"fulfillment_status"`
	CancelledAt       *time.Time `json:"cancelled_at"`
}

type shopifyCheckout struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (c *ShopifyClient) FindRecentOrder(ctx context.Context, email string) (*domain.OrderRef, error) {
	orders, err := c.orders(ctx, email, 1)
	if err != nil || len(orders) == 0 {
		return nil, err
	}
	order := orders[0]
	status := order.FinancialStatus
	if order.FulfillmentStatus != nil && *order.FulfillmentStatus != "" {
		status = *order.FulfillmentStatus
	}
	return &domain.OrderRef{
		ID:        strconv.FormatInt(order.ID, 10),
		Name:      order.Name,
		CreatedAt: order.CreatedAt,
		Status:    status,
	}, nil
}

func (c *ShopifyClient) ClassifyCustomer(ctx context.Context, email string) (domain.CustomerClass, error) {
	var class domain.CustomerClass
	orders, err := c.orders(ctx, email, 50)
	if err != nil {
		return class, err
	}
	for _, order := range orders {
		if completedOrder(order) {
			class.HasCompletedOrders = true
			return class, nil
		}
	}

	query := url.Values{}
	query.Set("limit", "250")
	var resp struct {
		Checkouts []shopifyCheckout `json:"checkouts"`
	}
	if err := c.get(ctx, "/checkouts.json", query, &resp); err != nil {
		return class, err
	}
	for _, checkout := range resp.Checkouts {
		if strings.EqualFold(strings.TrimSpace(checkout.Email), email) && checkout.CompletedAt == nil {
			class.HasAbandonedCheckout = true
			break
		}
	}
	return class, nil
}

func completedOrder(order shopifyOrder) bool {
	if order.CancelledAt != nil {
		return false
	}
	switch order.FinancialStatus {
	case "paid", "partially_paid", "partially_refunded":
		return true
	}
	return false
}

func (c *ShopifyClient) orders(ctx context.Context, email string, limit int) ([]shopifyOrder, error) {
	query := url.Values{}
	query.Set("email", email)
	query.Set("status", "any")
	query.Set("limit", strconv.Itoa(limit))
	var resp struct {
		Orders []shopifyOrder `json:"orders"`
	}
	if err := c.get(ctx, "/orders.json", query, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (c *ShopifyClient) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path + "?" + query.Encode()
	result := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("X-Shopify-Access-Token", c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("shopify %s returned %d", path, resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return retry.Permanent(fmt.Errorf("shopify %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data))))
		}
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode shopify %s: %w", path, err))
		}
		return nil
	}, c.logger)
	if !result.Success {
		return result.LastError
	}
	return nil
}
