package orders

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/internal/inventory"
	"github.com/angelmondragon/mala-backend/pkg/config"
	"github.com/angelmondragon/mala-backend/pkg/db"
	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	"github.com/angelmondragon/mala-backend/pkg/outbox"
	"github.com/angelmondragon/mala-backend/pkg/razorpay"
	"github.com/angelmondragon/mala-backend/pkg/shiprocket"
	"github.com/angelmondragon/mala-backend/pkg/types"
)

const testGatewaySecret = "rzp_test_secret"

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Order{}, &models.OrderLineItem{}, &models.InventoryItem{}); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func testOrdersConfig() config.OrdersConfig {
	return config.OrdersConfig{
		CancellationWindow: 24 * time.Hour,
		ReturnWindow:       7 * 24 * time.Hour,
		AbandonmentMinAge:  15 * time.Minute,
		AbandonmentMaxAge:  time.Hour,
		DefaultCurrency:    "INR",
		RefundSpeed:        "optimum",
	}
}

type fakeGateway struct {
	mu sync.Mutex

	intentErr  error
	intents    []int64
	nextIntent int

	refundErr      error
	refundRequests []razorpay.RefundRequest
	refundStatus   string

	remoteStatus string
	getRefundErr error

	// beforeRefund runs once, ahead of the next CreateRefund.
	beforeRefund func()
}

func (f *fakeGateway) CreateIntent(_ context.Context, amountMinor int64, currency, receipt string) (razorpay.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intentErr != nil {
		return razorpay.Intent{}, f.intentErr
	}
	f.nextIntent++
	f.intents = append(f.intents, amountMinor)
	return razorpay.Intent{ID: fmt.Sprintf("order_test%03d", f.nextIntent), Amount: amountMinor, Currency: currency, Receipt: receipt}, nil
}

func (f *fakeGateway) ExpectedSignature(orderID, paymentID string) string {
	return signPayment(orderID, paymentID)
}

func (f *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return hmac.Equal([]byte(signPayment(orderID, paymentID)), []byte(signature))
}

func (f *fakeGateway) CreateRefund(_ context.Context, req razorpay.RefundRequest) (razorpay.Refund, error) {
	f.mu.Lock()
	hook := f.beforeRefund
	f.beforeRefund = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return razorpay.Refund{}, f.refundErr
	}
	f.refundRequests = append(f.refundRequests, req)
	status := f.refundStatus
	if status == "" {
		status = "pending"
	}
	return razorpay.Refund{
		ID:             fmt.Sprintf("rfnd_test%03d", len(f.refundRequests)),
		PaymentID:      req.PaymentID,
		Amount:         req.AmountMinor,
		Status:         status,
		SpeedRequested: req.Speed,
		SpeedProcessed: "normal",
		Receipt:        req.Receipt,
		Notes:          req.Notes,
	}, nil
}

func (f *fakeGateway) GetRefund(_ context.Context, paymentID, refundID string) (razorpay.Refund, error) {
	if f.getRefundErr != nil {
		return razorpay.Refund{}, f.getRefundErr
	}
	return razorpay.Refund{ID: refundID, PaymentID: paymentID, Status: f.remoteStatus, SpeedProcessed: "instant"}, nil
}

func signPayment(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testGatewaySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

type recordingEmitter struct {
	mu       sync.Mutex
	events   []outbox.DomainEvent
	err      error
	failOnce error
}

func (r *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOnce != nil {
		err := r.failOnce
		r.failOnce = nil
		return err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) count(eventType enums.OutboxEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// failingLedger fails increments for the listed products and delegates the rest.
type failingLedger struct {
	inventory.Ledger
	failIncrement map[string]bool
}

func (f *failingLedger) Increment(ctx context.Context, productID string, qty int) error {
	if f.failIncrement[productID] {
		return errors.New("inventory store unavailable")
	}
	return f.Ledger.Increment(ctx, productID, qty)
}

// replayingRepo counts status swaps across transaction attempts. Before the
// second swap it runs concurrent on the same tx, standing in for another
// writer that committed between the attempts.
type replayingRepo struct {
	Repository
	swaps      *int
	concurrent func(tx *gorm.DB, id uuid.UUID) error
	tx         *gorm.DB
}

func newReplayingRepo(base Repository, concurrent func(tx *gorm.DB, id uuid.UUID) error) *replayingRepo {
	return &replayingRepo{Repository: base, swaps: new(int), concurrent: concurrent}
}

func (r *replayingRepo) WithTx(tx *gorm.DB) Repository {
	return &replayingRepo{Repository: r.Repository.WithTx(tx), swaps: r.swaps, concurrent: r.concurrent, tx: tx}
}

func (r *replayingRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, fields map[string]any) (bool, error) {
	*r.swaps++
	if *r.swaps == 2 && r.concurrent != nil && r.tx != nil {
		if err := r.concurrent(r.tx, id); err != nil {
			return false, err
		}
	}
	return r.Repository.TransitionStatus(ctx, id, from, to, fields)
}

type fakeShipping struct {
	requests []shiprocket.ShipmentRequest
	err      error
}

func (f *fakeShipping) CreateShipment(_ context.Context, req shiprocket.ShipmentRequest) (shiprocket.Shipment, error) {
	if f.err != nil {
		return shiprocket.Shipment{}, f.err
	}
	f.requests = append(f.requests, req)
	return shiprocket.Shipment{OrderID: 4242, ShipmentID: 99, Status: "NEW"}, nil
}

type testEnv struct {
	conn     *gorm.DB
	svc      *service
	repo     Repository
	ledger   inventory.Ledger
	gateway  *fakeGateway
	emitter  *recordingEmitter
	shipping *fakeShipping
	clock    time.Time
}

func (e *testEnv) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
}

func (e *testEnv) setClock(t time.Time) {
	e.clock = t
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := setupOrdersTestDB(t)
	env := &testEnv{
		conn:     conn,
		repo:     NewRepository(conn),
		ledger:   inventory.NewLedger(conn),
		gateway:  &fakeGateway{},
		emitter:  &recordingEmitter{},
		shipping: &fakeShipping{},
		clock:    baseTime,
	}
	env.svc = env.buildService(t, env.ledger)
	return env
}

func (e *testEnv) buildService(t *testing.T, ledger inventory.Ledger) *service {
	t.Helper()
	built, err := NewService(ServiceParams{
		Repo:      e.repo,
		Tx:        db.NewFromGorm(e.conn),
		Inventory: ledger,
		Gateway:   e.gateway,
		Outbox:    e.emitter,
		Shipping:  e.shipping,
		Logger:    logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard}),
		Config:    testOrdersConfig(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc := built.(*service)
	svc.now = func() time.Time { return e.clock }
	return svc
}

func (e *testEnv) seedStock(t *testing.T, stock map[string]int) {
	t.Helper()
	for productID, qty := range stock {
		if err := e.conn.Create(&models.InventoryItem{ProductID: productID, Stock: qty}).Error; err != nil {
			t.Fatalf("seed stock %s: %v", productID, err)
		}
	}
}

func (e *testEnv) stockOf(t *testing.T, productID string) int {
	t.Helper()
	stock, err := e.ledger.Lookup(context.Background(), []string{productID})
	if err != nil {
		t.Fatalf("lookup stock: %v", err)
	}
	return stock[productID]
}

type seedLine struct {
	productID string
	qty       int
	price     int64
}

// seedOrder inserts an order directly in the given status.
func (e *testEnv) seedOrder(t *testing.T, userID string, status enums.OrderStatus, createdAt time.Time, lines ...seedLine) *models.Order {
	t.Helper()
	id := uuid.New()
	total := decimal.Zero
	items := make([]models.OrderLineItem, 0, len(lines))
	for _, l := range lines {
		price := decimal.NewFromInt(l.price)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(l.qty))))
		items = append(items, models.OrderLineItem{ID: uuid.New(), OrderID: id, ProductID: l.productID, Name: "Item " + l.productID, UnitPrice: price, Quantity: l.qty})
	}
	deadline := createdAt.Add(24 * time.Hour)
	order := &models.Order{
		ID:                   id,
		OrderNumber:          newOrderNumber(createdAt, userID) + "-" + id.String()[:4],
		UserID:               userID,
		CustomerName:         "Asha Rao",
		CustomerEmail:        "asha@example.com",
		Currency:             enums.CurrencyINR,
		TotalPrice:           total,
		AmountDiscount:       decimal.Zero,
		Status:               status,
		GatewayOrderID:       "order_seed_" + id.String()[:8],
		ShippingAddress:      types.ShippingAddress{Name: "Asha Rao", Address: "12 Temple Road", City: "Pune", State: "MH", Zip: "411001", Contact: "9876543210"},
		CancellationDeadline: &deadline,
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
		LineItems:            items,
	}
	if status != enums.OrderStatusPending {
		paymentID := "pay_seed_" + id.String()[:8]
		order.GatewayPaymentID = &paymentID
	}
	if err := e.repo.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := e.repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := pkgerrors.CodeOf(err); got != code {
		t.Fatalf("expected %s error, got %s (%v)", code, got, err)
	}
}
