package records

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/custodia-labs/storesync/internal/core/domain"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := NewStore(db)
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store, db
}

func TestUpsert_CustomerIsIdempotent(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	up, err := store.Upserter(domain.EntityCustomers)
	require.NoError(t, err)

	first := domain.Record{ExternalID: 501, Raw: []byte(`{
		"id": 501, "email": "ada@example.com", "first_name": "Ada", "last_name": "Lovelace",
		"state": "enabled", "orders_count": 3, "total_spent": "129.95",
		"updated_at": "2026-02-10T08:30:00Z"
	}`)}
	require.NoError(t, up.Upsert(ctx, "acme", first))
	require.NoError(t, up.Upsert(ctx, "acme", first))

	second := domain.Record{ExternalID: 501, Raw: []byte(`{
		"id": 501, "email": "ada@lovelace.dev", "first_name": "Ada", "last_name": "Lovelace",
		"state": "enabled", "orders_count": 4, "total_spent": "150.00",
		"updated_at": "2026-02-11T08:30:00Z"
	}`)}
	require.NoError(t, up.Upsert(ctx, "acme", second))

	n, err := store.Count(ctx, "acme", domain.EntityCustomers)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var got Customer
	require.NoError(t, db.Where("tenant_id = ? AND external_id = ?", "acme", 501).First(&got).Error)
	assert.Equal(t, "ada@lovelace.dev", got.Email)
	assert.Equal(t, 4, got.OrdersCount)
	assert.True(t, got.TotalSpent.Equal(decimal.RequireFromString("150")), "total_spent = %s", got.TotalSpent)
	require.NotNil(t, got.RemoteUpdatedAt)
	assert.True(t, got.RemoteUpdatedAt.Equal(time.Date(2026, 2, 11, 8, 30, 0, 0, time.UTC)))
}

func TestUpsert_TenantsAreIsolated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	up, err := store.Upserter(domain.EntityProducts)
	require.NoError(t, err)

	rec := domain.Record{ExternalID: 7, Raw: []byte(`{"id":7,"title":"Mug","variants":[{"price":"12.50"}]}`)}
	require.NoError(t, up.Upsert(ctx, "acme", rec))
	require.NoError(t, up.Upsert(ctx, "globex", rec))

	for _, tenant := range []string{"acme", "globex"} {
		n, err := store.Count(ctx, tenant, domain.EntityProducts)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, tenant)
	}
}

func TestUpsert_ProductFields(t *testing.T) {
	store, db := newTestStore(t)
	up, err := store.Upserter(domain.EntityProducts)
	require.NoError(t, err)

	rec := domain.Record{ExternalID: 88, Raw: []byte(`{
		"id": 88, "title": "Espresso Cup", "vendor": "Kiln & Co", "product_type": "Ceramics",
		"status": "active", "variants": [{"price": "24.00"}, {"price": "30.00"}]
	}`)}
	require.NoError(t, up.Upsert(context.Background(), "acme", rec))

	var got Product
	require.NoError(t, db.Where("external_id = ?", 88).First(&got).Error)
	assert.Equal(t, "Espresso Cup", got.Title)
	assert.Equal(t, "Kiln & Co", got.Vendor)
	assert.Equal(t, "active", got.Status)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("24")))
	assert.Nil(t, got.RemoteUpdatedAt)
}

func TestUpsert_OrderGuestCheckout(t *testing.T) {
	store, db := newTestStore(t)
	up, err := store.Upserter(domain.EntityOrders)
	require.NoError(t, err)
	ctx := context.Background()

	guest := domain.Record{ExternalID: 1001, Raw: []byte(`{
		"id": 1001, "name": "#1001", "email": "guest@example.com", "customer": null,
		"financial_status": "paid", "currency": "EUR", "total_price": "42.10",
		"created_at": "2026-02-01T10:00:00Z", "cancelled_at": null
	}`)}
	known := domain.Record{ExternalID: 1002, Raw: []byte(`{
		"id": 1002, "name": "#1002", "customer": {"id": 501},
		"financial_status": "refunded", "total_price": "10",
		"cancelled_at": "2026-02-03T12:00:00Z"
	}`)}
	require.NoError(t, up.Upsert(ctx, "acme", guest))
	require.NoError(t, up.Upsert(ctx, "acme", known))

	var orders []Order
	require.NoError(t, db.Order("external_id").Find(&orders).Error)
	require.Len(t, orders, 2)

	assert.Nil(t, orders[0].CustomerID)
	assert.Equal(t, "EUR", orders[0].Currency)
	require.NotNil(t, orders[0].PlacedAt)
	assert.Nil(t, orders[0].CancelledAt)

	require.NotNil(t, orders[1].CustomerID)
	assert.Equal(t, int64(501), *orders[1].CustomerID)
	require.NotNil(t, orders[1].CancelledAt)
}

func TestUpsert_RejectsMalformedRecords(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	customers, err := store.Upserter(domain.EntityCustomers)
	require.NoError(t, err)
	err = customers.Upsert(ctx, "acme", domain.Record{ExternalID: 1, Raw: []byte(`{"id":1,`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	orders, err := store.Upserter(domain.EntityOrders)
	require.NoError(t, err)
	err = orders.Upsert(ctx, "acme", domain.Record{ExternalID: 2, Raw: []byte(`{"id":2,"total_price":"ten"}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total_price")

	n, err := store.Count(ctx, "acme", domain.EntityOrders)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_UnknownEntity(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Upserter(domain.EntityType("refunds"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = store.Count(context.Background(), "acme", domain.EntityType("refunds"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
