package records

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Customer is the local mirror of an upstream customer
type Customer struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	TenantID   string `gorm:"not null;uniqueIndex:idx_customers_tenant_external,priority:1"`
	ExternalID int64  `gorm:"not null;uniqueIndex:idx_customers_tenant_external,priority:2"`
	Email      string `gorm:"index"`

	FirstName   string
	LastName    string
	State       string
	OrdersCount int             `gorm:"not null;default:0"`
	TotalSpent  decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Raw         datatypes.JSON  `gorm:"not null"`

	RemoteUpdatedAt *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Customer) TableName() string {
	return "customers"
}

// Product is the local mirror of an upstream product
type Product struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	TenantID    string `gorm:"not null;uniqueIndex:idx_products_tenant_external,priority:1"`
	ExternalID  int64  `gorm:"not null;uniqueIndex:idx_products_tenant_external,priority:2"`
	Title       string `gorm:"not null"`
	Vendor      string
	ProductType string
	Status      string          `gorm:"index"`
	Price       decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Raw         datatypes.JSON  `gorm:"not null"`

	RemoteUpdatedAt *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}

// Order is the local mirror of an upstream order.
// CustomerID is the upstream customer id, nil for guest checkouts.
type Order struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	TenantID          string `gorm:"not null;uniqueIndex:idx_orders_tenant_external,priority:1"`
	ExternalID        int64  `gorm:"not null;uniqueIndex:idx_orders_tenant_external,priority:2"`
	Name              string
	Email             string
	CustomerID        *int64 `gorm:"index"`
	FinancialStatus   string
	FulfillmentStatus string
	Currency          string
	TotalPrice        decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Raw               datatypes.JSON  `gorm:"not null"`

	PlacedAt        *time.Time
	CancelledAt     *time.Time
	RemoteUpdatedAt *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}
