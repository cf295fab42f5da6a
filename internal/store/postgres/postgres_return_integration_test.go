package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stitchpos/backend/internal/domain"
)

func TestReturnBillRestocksAndUpdatesStatus(t *testing.T) {
	databaseURL := os.Getenv("STITCHPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STITCHPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("branch-it-%d", stamp)
	employeeID := fmt.Sprintf("emp-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	sku := fmt.Sprintf("SKU-IT-%d", stamp)
	billID := fmt.Sprintf("bill-it-%d", stamp)
	returnID := fmt.Sprintf("ret-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM commissions WHERE employee_id = $1`, employeeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bill_items WHERE bill_id IN ($1, $2)`, billID, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE id IN ($1, $2)`, billID, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branch_bill_counters WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM variant_stocks WHERE sku = $1`, sku)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_variants WHERE sku = $1`, sku)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM employees WHERE id = $1`, employeeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})

	if _, err := s.CreateBranch(ctx, domain.Branch{ID: branchID, Name: "IT Branch " + branchID}); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := s.CreateEmployee(ctx, domain.Employee{
		ID:             employeeID,
		FullName:       "Integration Cashier",
		Username:       fmt.Sprintf("cashier-it-%d", stamp),
		PasswordHash:   "$2a$10$abcdefghijklmnopqrstuv",
		Role:           domain.RoleCashier,
		BranchID:       branchID,
		CommissionRate: decimal.RequireFromString("0.05"),
	}); err != nil {
		t.Fatalf("create employee: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:   productID,
		Name: "Integration Tee",
		Variants: []domain.Variant{
			{SKU: sku, Color: "red", Size: "M", Price: decimal.RequireFromString("29.99"), Stock: map[string]int{branchID: 10}},
		},
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	price := decimal.RequireFromString("29.99")
	lineTotal := price.Mul(decimal.NewFromInt(2))
	bill := domain.Bill{
		ID:         billID,
		BillNumber: fmt.Sprintf("BR-IT-%d", stamp),
		BranchID:   branchID,
		EmployeeID: employeeID,
		Items: []domain.BillItem{
			{ProductID: productID, SKU: sku, ProductName: "Integration Tee", Quantity: 2, UnitPrice: price, LineTotal: lineTotal},
		},
		Subtotal:      lineTotal,
		TotalAmount:   lineTotal,
		PaymentMethod: "cash",
		Status:        domain.BillStatusCompleted,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.CreateBill(ctx, bill, nil); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `
		SELECT qty FROM variant_stocks WHERE sku = $1 AND branch_id = $2
	`, sku, branchID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", qty)
	}

	reversal := domain.Bill{
		ID:         returnID,
		BillNumber: fmt.Sprintf("RET-IT-%d", stamp),
		BranchID:   branchID,
		EmployeeID: employeeID,
		Items: []domain.BillItem{
			{ProductID: productID, SKU: sku, ProductName: "Integration Tee", Quantity: 1, UnitPrice: price, LineTotal: price},
		},
		Subtotal:      price.Neg(),
		TotalAmount:   price.Neg(),
		PaymentMethod: "Return",
		Status:        domain.BillStatusReturned,
		RelatedBillID: billID,
		CreatedAt:     time.Now().UTC(),
	}
	_, newStatus, err := s.CreateReturnBill(ctx, reversal, nil)
	if err != nil {
		t.Fatalf("create return bill: %v", err)
	}
	if newStatus != domain.BillStatusPartialReturn {
		t.Fatalf("expected partial-return, got %s", newStatus)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT qty FROM variant_stocks WHERE sku = $1 AND branch_id = $2
	`, sku, branchID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 9 {
		t.Fatalf("expected stock 9 after return, got %d", qty)
	}

	var status string
	if err := s.db.QueryRowContext(ctx, `
		SELECT status FROM bills WHERE id = $1
	`, billID).Scan(&status); err != nil {
		t.Fatalf("query bill status: %v", err)
	}
	if status != string(domain.BillStatusPartialReturn) {
		t.Fatalf("expected partial-return status, got %s", status)
	}
}
