package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mala-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://apiv2.shiprocket.in/v1/external"
	defaultPickupLocation      = "Primary"
	orderDateLayout            = "2006-01-02 15:04"
	responseBodyReadLimit int64 = 1024

	// Package defaults for a boxed jewelry order, cm and kg.
	defaultLength  = 10
	defaultBreadth = 10
	defaultHeight  = 5
	defaultWeight  = 0.5
)

var errCredentialsRequired = errors.New("shiprocket email and password are required")

// Client creates shipments on the Shiprocket aggregator. It logs in lazily
// and reuses the bearer token until the API rejects it.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	email          string
	password       string
	pickupLocation string

	mu    sync.Mutex
	token string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a Shiprocket client from config.
func NewClient(cfg config.ShiprocketConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errCredentialsRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        defaultBaseURL,
		email:          strings.TrimSpace(cfg.Email),
		password:       cfg.Password,
		pickupLocation: strings.TrimSpace(cfg.PickupLocation),
	}
	if cfg.BaseURL != "" {
		client.baseURL = strings.TrimSpace(cfg.BaseURL)
	}
	if client.pickupLocation == "" {
		client.pickupLocation = defaultPickupLocation
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Item is one shipped product line.
type Item struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice decimal.Decimal
}

// ShipmentRequest carries the order snapshot Shiprocket needs to book a pickup.
type ShipmentRequest struct {
	OrderNumber   string
	OrderDate     time.Time
	CustomerName  string
	CustomerEmail string
	Address       string
	City          string
	State         string
	Pincode       string
	Phone         string
	Items         []Item
	Discount      decimal.Decimal
	SubTotal      decimal.Decimal
}

// Shipment is the aggregator's acknowledgement of a booked order.
type Shipment struct {
	OrderID     int64
	ShipmentID  int64
	Status      string
	AWBCode     string
	CourierName string
}

// Reference is the value stored on the order as its shipment-creation reference.
func (s Shipment) Reference() string {
	return fmt.Sprintf("%d", s.OrderID)
}

type adhocOrder struct {
	OrderID             string      `json:"order_id"`
	OrderDate           string      `json:"order_date"`
	PickupLocation      string      `json:"pickup_location"`
	BillingCustomerName string      `json:"billing_customer_name"`
	BillingLastName     string      `json:"billing_last_name"`
	BillingAddress      string      `json:"billing_address"`
	BillingCity         string      `json:"billing_city"`
	BillingPincode      string      `json:"billing_pincode"`
	BillingState        string      `json:"billing_state"`
	BillingCountry      string      `json:"billing_country"`
	BillingEmail        string      `json:"billing_email"`
	BillingPhone        string      `json:"billing_phone"`
	ShippingIsBilling   bool        `json:"shipping_is_billing"`
	OrderItems          []adhocItem `json:"order_items"`
	PaymentMethod       string      `json:"payment_method"`
	TotalDiscount       float64     `json:"total_discount"`
	SubTotal            float64     `json:"sub_total"`
	Length              float64     `json:"length"`
	Breadth             float64     `json:"breadth"`
	Height              float64     `json:"height"`
	Weight              float64     `json:"weight"`
}

type adhocItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

// CreateShipment books the order with Shiprocket. A stale token is refreshed once.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error) {
	if c == nil {
		return Shipment{}, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket client not configured")
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		return Shipment{}, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	if len(req.Items) == 0 {
		return Shipment{}, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	payload, err := json.Marshal(c.toAdhocOrder(req))
	if err != nil {
		return Shipment{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal shipment request")
	}

	shipment, status, err := c.postOrder(ctx, payload)
	if status == http.StatusUnauthorized {
		c.resetToken()
		shipment, _, err = c.postOrder(ctx, payload)
	}
	return shipment, err
}

func (c *Client) postOrder(ctx context.Context, payload []byte) (Shipment, int, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return Shipment{}, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("orders/create/adhoc"), bytes.NewReader(payload))
	if err != nil {
		return Shipment{}, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build shipment request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Shipment{}, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute shipment request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return Shipment{}, resp.StatusCode, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "shipment request failed")
	}

	var apiResp struct {
		OrderID     int64  `json:"order_id"`
		ShipmentID  int64  `json:"shipment_id"`
		Status      string `json:"status"`
		AWBCode     string `json:"awb_code"`
		CourierName string `json:"courier_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return Shipment{}, resp.StatusCode, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shipment response")
	}

	return Shipment{
		OrderID:     apiResp.OrderID,
		ShipmentID:  apiResp.ShipmentID,
		Status:      apiResp.Status,
		AWBCode:     apiResp.AWBCode,
		CourierName: apiResp.CourierName,
	}, resp.StatusCode, nil
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal login request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("auth/login"), bytes.NewReader(payload))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build login request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute login request")
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp struct {
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "shiprocket login failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode login response")
	}
	if apiResp.Token == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "shiprocket login returned no token")
	}
	c.token = apiResp.Token
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) toAdhocOrder(req ShipmentRequest) adhocOrder {
	first, last := splitName(req.CustomerName)
	items := make([]adhocItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, adhocItem{
			Name:         item.Name,
			SKU:          item.SKU,
			Units:        item.Units,
			SellingPrice: item.SellingPrice.InexactFloat64(),
		})
	}
	return adhocOrder{
		OrderID:             req.OrderNumber,
		OrderDate:           req.OrderDate.Format(orderDateLayout),
		PickupLocation:      c.pickupLocation,
		BillingCustomerName: first,
		BillingLastName:     last,
		BillingAddress:      req.Address,
		BillingCity:         req.City,
		BillingPincode:      req.Pincode,
		BillingState:        req.State,
		BillingCountry:      "India",
		BillingEmail:        req.CustomerEmail,
		BillingPhone:        req.Phone,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       "Prepaid",
		TotalDiscount:       req.Discount.InexactFloat64(),
		SubTotal:            req.SubTotal.InexactFloat64(),
		Length:              defaultLength,
		Breadth:             defaultBreadth,
		Height:              defaultHeight,
		Weight:              defaultWeight,
	}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), path)
}
