// Package stripe implements the billing provider contract against the
// Stripe HTTP API using form-encoded requests.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/internal/config"
)

type Client struct {
	baseURL   string
	secretKey string
	priceID   string
	http      *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.Billing.APIBaseURL, "/"),
		secretKey: cfg.Billing.SecretKey,
		priceID:   cfg.Billing.PriceID,
		http: &http.Client{
			Timeout: cfg.Billing.RequestTimeout,
		},
	}
}

// Configured reports whether a secret key was provided. Calls on an
// unconfigured client fail with ErrNotConfigured instead of reaching
// the network.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.secretKey) != ""
}

func (c *Client) CreateCustomer(ctx context.Context, email, name string, userID snowflake.ID) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	if name != "" {
		form.Set("name", name)
	}
	form.Set("metadata[user_id]", userID.String())

	var customer struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (c *Client) CreateMeteredSubscription(ctx context.Context, customerID string) (*domain.Subscription, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("items[0][price]", c.priceID)
	form.Set("payment_behavior", "default_incomplete")

	var sub subscription
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", form, &sub); err != nil {
		return nil, err
	}
	return sub.toDomain(), nil
}

func (c *Client) SubmitUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) (string, error) {
	form := url.Values{}
	form.Set("quantity", strconv.FormatInt(quantity, 10))
	form.Set("timestamp", strconv.FormatInt(at.Unix(), 10))
	form.Set("action", "increment")

	var record struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v1/subscription_items/%s/usage_records", url.PathEscape(subscriptionItemID))
	if err := c.do(ctx, http.MethodPost, path, form, &record); err != nil {
		return "", err
	}
	return record.ID, nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	var sub subscription
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &sub); err != nil {
		return nil, err
	}
	return sub.toDomain(), nil
}

func (c *Client) SubscriptionItemID(ctx context.Context, subscriptionID string) (string, error) {
	sub, err := c.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if len(sub.Items) == 0 {
		return "", domain.ErrNoSubscription
	}
	return sub.Items[0].ID, nil
}

func (c *Client) UsageSummary(ctx context.Context, subscriptionID string) (*domain.UsageSummary, error) {
	sub, err := c.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if len(sub.Items) == 0 {
		return nil, domain.ErrNoSubscription
	}

	var list struct {
		Data []struct {
			TotalUsage int64 `json:"total_usage"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v1/subscription_items/%s/usage_record_summaries?limit=1", url.PathEscape(sub.Items[0].ID))
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	summary := &domain.UsageSummary{
		PeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		Status:      sub.Status,
	}
	if len(list.Data) > 0 {
		summary.TotalUsage = list.Data[0].TotalUsage
	}
	return summary, nil
}

func (c *Client) ListInvoices(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	if limit <= 0 {
		limit = 10
	}
	var list struct {
		Data []domain.Invoice `json:"data"`
	}
	path := fmt.Sprintf("/v1/invoices?customer=%s&limit=%d", url.QueryEscape(customerID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	if returnURL != "" {
		form.Set("return_url", returnURL)
	}

	var session struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/billing_portal/sessions", form, &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	var sub subscription
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &sub); err != nil {
		return nil, err
	}
	return sub.toDomain(), nil
}

type subscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s subscription) toDomain() *domain.Subscription {
	out := &domain.Subscription{
		ID:                 s.ID,
		CustomerID:         s.Customer,
		Status:             s.Status,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
	}
	for _, item := range s.Items.Data {
		out.Items = append(out.Items, domain.SubscriptionItem{
			ID:      item.ID,
			PriceID: item.Price.ID,
		})
	}
	return out
}

type apiError struct {
	Err struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if !c.Configured() {
		return domain.ErrNotConfigured
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if method == http.MethodPost {
			req.Header.Set("Idempotency-Key", uuid.NewString())
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Err.Message != "" {
			return fmt.Errorf("stripe: %s (%s)", apiErr.Err.Message, apiErr.Err.Type)
		}
		return fmt.Errorf("stripe: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}
