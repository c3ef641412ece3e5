package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	userdomain "github.com/metergate/metergate/internal/user/domain"
)

func (s *Server) currentUser(c *gin.Context) (*userdomain.User, bool) {
	record := s.authRecord(c)
	if record == nil {
		AbortWithError(c, ErrInvalidCredential)
		return nil, false
	}

	user, err := s.users.FindByID(c.Request.Context(), s.db, record.UserID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if user == nil {
		AbortWithError(c, userdomain.ErrNotFound)
		return nil, false
	}
	return user, true
}

func (s *Server) BillingSummary(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	if user.SubscriptionID == nil || *user.SubscriptionID == "" {
		c.JSON(http.StatusOK, gin.H{
			"subscription_status": user.SubscriptionStatus,
			"subscribed":          false,
		})
		return
	}

	summary, err := s.provider.UsageSummary(c.Request.Context(), *user.SubscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription_status": user.SubscriptionStatus,
		"subscribed":          true,
		"period":              summary,
	})
}

func (s *Server) ListInvoices(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	if user.BillingCustomerID == nil || *user.BillingCustomerID == "" {
		c.JSON(http.StatusOK, gin.H{"invoices": []any{}})
		return
	}

	limit := 10
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	invoices, err := s.provider.ListInvoices(c.Request.Context(), *user.BillingCustomerID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

// Subscribe provisions the provider side lazily: a customer record on
// first contact, then a metered subscription against the configured
// price. Calling it again while subscribed is a no-op.
func (s *Server) Subscribe(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if user.SubscriptionID != nil && *user.SubscriptionID != "" && user.SubscriptionStatus.AllowsAPIAccess() {
		c.JSON(http.StatusOK, gin.H{
			"subscription_id":     *user.SubscriptionID,
			"subscription_status": user.SubscriptionStatus,
		})
		return
	}

	customerID := ""
	if user.BillingCustomerID != nil {
		customerID = *user.BillingCustomerID
	}
	if customerID == "" {
		created, err := s.provider.CreateCustomer(ctx, user.Email, user.Name, user.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.users.SetBillingCustomerID(ctx, s.db, user.ID, created); err != nil {
			AbortWithError(c, err)
			return
		}
		customerID = created
	}

	sub, err := s.provider.CreateMeteredSubscription(ctx, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subscriptionID := sub.ID
	update := userdomain.SubscriptionUpdate{
		SubscriptionID: &subscriptionID,
		Status:         userdomain.ParseStatus(sub.Status),
	}
	if err := s.users.UpdateSubscription(ctx, s.db, user.ID, update); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription_id":     subscriptionID,
		"subscription_status": update.Status,
	})
}

func (s *Server) CreatePortalSession(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	if user.BillingCustomerID == nil || *user.BillingCustomerID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req struct {
		ReturnURL string `json:"return_url"`
	}
	_ = c.ShouldBindJSON(&req)

	url, err := s.provider.CreatePortalSession(c.Request.Context(), *user.BillingCustomerID, req.ReturnURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	if user.SubscriptionID == nil || *user.SubscriptionID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	ctx := c.Request.Context()

	sub, err := s.provider.CancelSubscription(ctx, *user.SubscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	update := userdomain.SubscriptionUpdate{
		SubscriptionID: nil,
		Status:         userdomain.StatusCanceled,
	}
	if err := s.users.UpdateSubscription(ctx, s.db, user.ID, update); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription_status": userdomain.StatusCanceled,
		"provider_status":     sub.Status,
	})
}
