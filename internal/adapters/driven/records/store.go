package records

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

// DBConfig holds pool settings for the record database
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects gorm to PostgreSQL
func Open(cfg DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open record database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Store writes upstream records into the local customer, product and order tables.
type Store struct {
	db *gorm.DB
}

// NewStore creates a record store over an open gorm handle
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the record tables
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Customer{}, &Product{}, &Order{}); err != nil {
		return fmt.Errorf("migrate record tables: %w", err)
	}
	return nil
}

// Upserter returns the sink for one entity type
func (s *Store) Upserter(entity domain.EntityType) (driven.RecordUpserter, error) {
	switch entity {
	case domain.EntityCustomers:
		return &upserter{db: s.db, build: buildCustomer, updates: customerUpdates}, nil
	case domain.EntityProducts:
		return &upserter{db: s.db, build: buildProduct, updates: productUpdates}, nil
	case domain.EntityOrders:
		return &upserter{db: s.db, build: buildOrder, updates: orderUpdates}, nil
	}
	return nil, fmt.Errorf("%w: no record table for %q", domain.ErrInvalidInput, entity)
}

// Count returns how many records of an entity type are stored for a tenant
func (s *Store) Count(ctx context.Context, tenantID string, entity domain.EntityType) (int64, error) {
	var model any
	switch entity {
	case domain.EntityCustomers:
		model = &Customer{}
	case domain.EntityProducts:
		model = &Product{}
	case domain.EntityOrders:
		model = &Order{}
	default:
		return 0, fmt.Errorf("%w: no record table for %q", domain.ErrInvalidInput, entity)
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(model).Where("tenant_id = ?", tenantID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", entity, err)
	}
	return n, nil
}

var (
	customerUpdates = []string{
		"email", "first_name", "last_name", "state", "orders_count",
		"total_spent", "raw", "remote_updated_at", "updated_at",
	}
	productUpdates = []string{
		"title", "vendor", "product_type", "status", "price",
		"raw", "remote_updated_at", "updated_at",
	}
	orderUpdates = []string{
		"name", "email", "customer_id", "financial_status", "fulfillment_status",
		"currency", "total_price", "raw", "placed_at", "cancelled_at",
		"remote_updated_at", "updated_at",
	}
)

// Verify interface compliance
var _ driven.RecordUpserter = (*upserter)(nil)

// upserter writes one record keyed on (tenant_id, external_id)
type upserter struct {
	db      *gorm.DB
	build   func(tenantID string, rec domain.Record) (any, error)
	updates []string
}

func (u *upserter) Upsert(ctx context.Context, tenantID string, rec domain.Record) error {
	if !gjson.ValidBytes(rec.Raw) {
		return fmt.Errorf("%w: record %d is not valid JSON", domain.ErrInvalidInput, rec.ExternalID)
	}
	row, err := u.build(tenantID, rec)
	if err != nil {
		return err
	}

	err = u.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(u.updates),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert record %d: %w", rec.ExternalID, err)
	}
	return nil
}

func buildCustomer(tenantID string, rec domain.Record) (any, error) {
	doc := gjson.ParseBytes(rec.Raw)
	spent, err := money(doc.Get("total_spent"))
	if err != nil {
		return nil, fmt.Errorf("customer %d total_spent: %w", rec.ExternalID, err)
	}
	return &Customer{
		TenantID:        tenantID,
		ExternalID:      rec.ExternalID,
		Email:           doc.Get("email").String(),
		FirstName:       doc.Get("first_name").String(),
		LastName:        doc.Get("last_name").String(),
		State:           doc.Get("state").String(),
		OrdersCount:     int(doc.Get("orders_count").Int()),
		TotalSpent:      spent,
		Raw:             datatypes.JSON(rec.Raw),
		RemoteUpdatedAt: timestamp(doc.Get("updated_at")),
	}, nil
}

func buildProduct(tenantID string, rec domain.Record) (any, error) {
	doc := gjson.ParseBytes(rec.Raw)
	price, err := money(doc.Get("variants.0.price"))
	if err != nil {
		return nil, fmt.Errorf("product %d price: %w", rec.ExternalID, err)
	}
	return &Product{
		TenantID:        tenantID,
		ExternalID:      rec.ExternalID,
		Title:           doc.Get("title").String(),
		Vendor:          doc.Get("vendor").String(),
		ProductType:     doc.Get("product_type").String(),
		Status:          doc.Get("status").String(),
		Price:           price,
		Raw:             datatypes.JSON(rec.Raw),
		RemoteUpdatedAt: timestamp(doc.Get("updated_at")),
	}, nil
}

func buildOrder(tenantID string, rec domain.Record) (any, error) {
	doc := gjson.ParseBytes(rec.Raw)
	total, err := money(doc.Get("total_price"))
	if err != nil {
		return nil, fmt.Errorf("order %d total_price: %w", rec.ExternalID, err)
	}

	var customerID *int64
	if c := doc.Get("customer.id"); c.Exists() && c.Type != gjson.Null {
		id := c.Int()
		customerID = &id
	}

	return &Order{
		TenantID:          tenantID,
		ExternalID:        rec.ExternalID,
		Name:              doc.Get("name").String(),
		Email:             doc.Get("email").String(),
		CustomerID:        customerID,
		FinancialStatus:   doc.Get("financial_status").String(),
		FulfillmentStatus: doc.Get("fulfillment_status").String(),
		Currency:          doc.Get("currency").String(),
		TotalPrice:        total,
		Raw:               datatypes.JSON(rec.Raw),
		PlacedAt:          timestamp(doc.Get("created_at")),
		CancelledAt:       timestamp(doc.Get("cancelled_at")),
		RemoteUpdatedAt:   timestamp(doc.Get("updated_at")),
	}, nil
}

// money parses a decimal amount. Upstream sends strings, missing means zero.
func money(r gjson.Result) (decimal.Decimal, error) {
	if !r.Exists() || r.Type == gjson.Null || r.String() == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.String())
}

func timestamp(r gjson.Result) *time.Time {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	t, err := time.Parse(time.RFC3339, r.String())
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
