package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Branch struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	ContactNumber string    `json:"contact_number"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

type BranchCreateRequest struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	ContactNumber string `json:"contact_number"`
}

type Employee struct {
	ID             string          `json:"id"`
	FullName       string          `json:"full_name"`
	Username       string          `json:"username"`
	PasswordHash   string          `json:"-"`
	Role           Role            `json:"role"`
	BranchID       string          `json:"branch_id"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

type EmployeeCreateRequest struct {
	FullName       string           `json:"full_name"`
	Username       string           `json:"username"`
	Password       string           `json:"password"`
	Role           string           `json:"role"`
	BranchID       string           `json:"branch_id"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type Customer struct {
	ID            string    `json:"id"`
	PhoneNumber   string    `json:"phone_number"`
	Name          string    `json:"name"`
	LoyaltyPoints int64     `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name"`
}

type Variant struct {
	SKU     string          `json:"sku"`
	Barcode string          `json:"barcode,omitempty"`
	Color   string          `json:"color"`
	Size    string          `json:"size"`
	Price   decimal.Decimal `json:"price"`
	Stock   map[string]int  `json:"stock"`
}

func (v Variant) TotalStock() int {
	total := 0
	for _, qty := range v.Stock {
		total += qty
	}
	return total
}

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Brand       string    `json:"brand"`
	Variants    []Variant `json:"variants"`
	CreatedAt   time.Time `json:"created_at"`
}

type VariantInput struct {
	SKU     string          `json:"sku"`
	Barcode string          `json:"barcode,omitempty"`
	Color   string          `json:"color"`
	Size    string          `json:"size"`
	Price   decimal.Decimal `json:"price"`
	Stock   map[string]int  `json:"stock,omitempty"`
}

type ProductCreateRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Brand       string         `json:"brand"`
	Variants    []VariantInput `json:"variants"`
}

type BillStatus string

const (
	BillStatusCompleted     BillStatus = "completed"
	BillStatusReturned      BillStatus = "returned"
	BillStatusPartialReturn BillStatus = "partial-return"
)

type BillItem struct {
	ProductID   string          `json:"product_id"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"product_name"`
	Color       string          `json:"color"`
	Size        string          `json:"size"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Bill struct {
	ID             string          `json:"id"`
	BillNumber     string          `json:"bill_number"`
	BranchID       string          `json:"branch_id"`
	EmployeeID     string          `json:"employee_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Items          []BillItem      `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMethod  string          `json:"payment_method"`
	Status         BillStatus      `json:"status"`
	RelatedBillID  string          `json:"related_bill_id,omitempty"`
	ReturnReason   string          `json:"return_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type BillLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type BillCreateRequest struct {
	CustomerPhone  string          `json:"customer_phone,omitempty"`
	CustomerName   string          `json:"customer_name,omitempty"`
	Items          []BillLine      `json:"items"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PaymentMethod  string          `json:"payment_method"`
}

type ReturnRequest struct {
	OriginalBillID string     `json:"original_bill_id"`
	Items          []BillLine `json:"items"`
	Reason         string     `json:"reason"`
}

type ReturnResponse struct {
	ReturnBill         Bill            `json:"return_bill"`
	RefundAmount       decimal.Decimal `json:"refund_amount"`
	OriginalBillStatus BillStatus      `json:"original_bill_status"`
}

type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "pending"
	CommissionStatusPaid    CommissionStatus = "paid"
)

type Commission struct {
	ID               string           `json:"id"`
	EmployeeID       string           `json:"employee_id"`
	BillID           string           `json:"bill_id"`
	SaleAmount       decimal.Decimal  `json:"sale_amount"`
	CommissionRate   decimal.Decimal  `json:"commission_rate"`
	CommissionAmount decimal.Decimal  `json:"commission_amount"`
	Status           CommissionStatus `json:"status"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

type CommissionPayoutRequest struct {
	CommissionIDs []string `json:"commission_ids"`
}

type CommissionPayoutResponse struct {
	PaidCount int `json:"paid_count"`
}

type StockInRequest struct {
	SKU      string `json:"sku"`
	BranchID string `json:"branch_id"`
	Quantity int    `json:"quantity"`
}

type StockInResponse struct {
	SKU        string `json:"sku"`
	BranchID   string `json:"branch_id"`
	BranchQty  int    `json:"branch_qty"`
	TotalStock int    `json:"total_stock"`
}

type StockTransferRequest struct {
	SKU          string `json:"sku"`
	FromBranchID string `json:"from_branch_id"`
	ToBranchID   string `json:"to_branch_id"`
	Quantity     int    `json:"quantity"`
}

type StockTransfer struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	FromBranchID  string    `json:"from_branch_id"`
	ToBranchID    string    `json:"to_branch_id"`
	Quantity      int       `json:"quantity"`
	TransferredBy string    `json:"transferred_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type LowStockItem struct {
	ProductID   string         `json:"product_id"`
	ProductName string         `json:"product_name"`
	SKU         string         `json:"sku"`
	Color       string         `json:"color"`
	Size        string         `json:"size"`
	Stock       map[string]int `json:"stock"`
	TotalStock  int            `json:"total_stock"`
}

type PaymentIntentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type PaymentIntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
}

type DashboardStats struct {
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalTransactions int             `json:"total_transactions"`
	AverageBillValue  decimal.Decimal `json:"average_bill_value"`
	TotalReturns      decimal.Decimal `json:"total_returns"`
	LowStockCount     int             `json:"low_stock_count"`
}

type SalesReportFilter struct {
	BranchID   string
	EmployeeID string
	From       *time.Time
	To         *time.Time
}

type SalesByEmployee struct {
	EmployeeID string          `json:"employee_id"`
	FullName   string          `json:"full_name"`
	BillCount  int             `json:"bill_count"`
	TotalSales decimal.Decimal `json:"total_sales"`
}

type SalesReport struct {
	TotalSales        decimal.Decimal   `json:"total_sales"`
	TotalReturns      decimal.Decimal   `json:"total_returns"`
	NetSales          decimal.Decimal   `json:"net_sales"`
	TotalTransactions int               `json:"total_transactions"`
	ByEmployee        []SalesByEmployee `json:"by_employee"`
}

type BillFilter struct {
	BranchID   string
	EmployeeID string
	CustomerID string
	From       *time.Time
	To         *time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id"`
	EmployeeID  string `json:"employee_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	EmployeeID string
	Username   string
	BranchID   string
	Role       Role
}
