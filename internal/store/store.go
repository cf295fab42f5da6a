package store

import (
	"context"
	"errors"
	"time"

	"stitchpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyReturned   = errors.New("bill already fully returned")
	ErrExcessiveReturn   = errors.New("return quantity exceeds remaining quantity")
	ErrItemNotInBill     = errors.New("item not in original bill")
	ErrDuplicate         = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
)

type Repository interface {
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	GetBranchByID(ctx context.Context, branchID string) (*domain.Branch, error)
	CreateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error)
	ListEmployees(ctx context.Context) ([]domain.Employee, error)
	GetEmployeeByID(ctx context.Context, employeeID string) (*domain.Employee, error)
	GetEmployeeByUsername(ctx context.Context, username string) (*domain.Employee, error)
	FindOrCreateCustomer(ctx context.Context, phoneNumber string, name string) (*domain.Customer, error)
	GetCustomerByPhone(ctx context.Context, phoneNumber string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, productID string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, productID string, product domain.Product) (*domain.Product, error)
	GetVariantBySKU(ctx context.Context, sku string) (*domain.Product, *domain.Variant, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, *domain.Variant, error)
	StockIn(ctx context.Context, sku string, branchID string, qty int) (*domain.StockInResponse, error)
	TransferStock(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error)
	ListStockTransfers(ctx context.Context, sku string) ([]domain.StockTransfer, error)
	ListLowStock(ctx context.Context, threshold int) ([]domain.LowStockItem, error)
	NextBillSeq(ctx context.Context, branchID string) (int64, error)
	CreateBill(ctx context.Context, bill domain.Bill, commission *domain.Commission) (*domain.Bill, error)
	CreateReturnBill(ctx context.Context, reversal domain.Bill, commission *domain.Commission) (*domain.Bill, domain.BillStatus, error)
	GetBillByID(ctx context.Context, billID string) (*domain.Bill, error)
	ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error)
	GetReturnedQtyByBill(ctx context.Context, billID string) (map[string]int, error)
	GetCommissionByBillID(ctx context.Context, billID string) (*domain.Commission, error)
	ListCommissions(ctx context.Context, employeeID string) ([]domain.Commission, error)
	PayoutCommissions(ctx context.Context, commissionIDs []string, paidAt time.Time) (int, error)
}
