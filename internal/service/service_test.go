package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"stitchpos/backend/internal/domain"
	"stitchpos/backend/internal/store"
	"stitchpos/backend/internal/store/memory"
)

func newTestService() (*Service, store.Repository) {
	repo := memory.NewSeeded()
	return New(repo, nil, nil, nil, nil), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		EmployeeID: "emp-admin",
		Username:   "admin",
		BranchID:   memory.SeedBranchDowntown,
		Role:       domain.RoleAdmin,
	})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		EmployeeID: "emp-cashier-dt",
		Username:   "cashier.downtown",
		BranchID:   memory.SeedBranchDowntown,
		Role:       domain.RoleCashier,
	})
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		EmployeeID: "emp-manager-dt",
		Username:   "manager.downtown",
		BranchID:   memory.SeedBranchDowntown,
		Role:       domain.RoleManager,
	})
}

func branchStock(t *testing.T, repo store.Repository, sku string, branchID string) int {
	t.Helper()
	_, variant, err := repo.GetVariantBySKU(context.Background(), sku)
	if err != nil {
		t.Fatalf("lookup %s: %v", sku, err)
	}
	return variant.Stock[branchID]
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateBillDecrementsStockAndRecordsCommission(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 5}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	if !bill.TotalAmount.Equal(mustDecimal("149.95")) {
		t.Fatalf("expected total 149.95, got %s", bill.TotalAmount)
	}
	if bill.BillNumber != "BR-1f6a-00001" {
		t.Fatalf("unexpected bill number %s", bill.BillNumber)
	}
	if bill.Status != domain.BillStatusCompleted {
		t.Fatalf("expected completed status, got %s", bill.Status)
	}
	if got := branchStock(t, repo, "TSH-RED-S", memory.SeedBranchDowntown); got != 25 {
		t.Fatalf("expected stock 25 after sale, got %d", got)
	}

	commission, err := repo.GetCommissionByBillID(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("lookup commission: %v", err)
	}
	if commission.EmployeeID != "emp-cashier-dt" {
		t.Fatalf("commission credited to %s", commission.EmployeeID)
	}
	if !commission.CommissionAmount.Equal(mustDecimal("7.50")) {
		t.Fatalf("expected commission 7.50, got %s", commission.CommissionAmount)
	}
	if commission.Status != domain.CommissionStatusPending {
		t.Fatalf("expected pending commission, got %s", commission.Status)
	}
}

func TestCreateBillInsufficientStockTouchesNothing(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.CreateBill(cashierCtx(), domain.BillCreateRequest{
		Items: []domain.BillLine{
			{SKU: "TSH-RED-S", Quantity: 5},
			{SKU: "TSH-RED-M", Quantity: 40},
		},
		PaymentMethod: "cash",
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if got := branchStock(t, repo, "TSH-RED-S", memory.SeedBranchDowntown); got != 30 {
		t.Fatalf("expected earlier line untouched at 30, got %d", got)
	}
	if got := branchStock(t, repo, "TSH-RED-M", memory.SeedBranchDowntown); got != 25 {
		t.Fatalf("expected stock unchanged at 25, got %d", got)
	}
}

func TestCreateBillRepeatedSKUCheckedAgainstCombinedDemand(t *testing.T) {
	svc, repo := newTestService()

	// HDY-GRY-XL has 4 units downtown; two lines of 3 exceed it together
	// even though each passes on its own.
	_, err := svc.CreateBill(cashierCtx(), domain.BillCreateRequest{
		Items: []domain.BillLine{
			{SKU: "HDY-GRY-XL", Quantity: 3},
			{SKU: "HDY-GRY-XL", Quantity: 3},
		},
		PaymentMethod: "cash",
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := branchStock(t, repo, "HDY-GRY-XL", memory.SeedBranchDowntown); got != 4 {
		t.Fatalf("expected stock unchanged at 4, got %d", got)
	}

	bill, err := svc.CreateBill(cashierCtx(), domain.BillCreateRequest{
		Items: []domain.BillLine{
			{SKU: "HDY-GRY-XL", Quantity: 2},
			{SKU: "HDY-GRY-XL", Quantity: 2},
		},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if !bill.TotalAmount.Equal(mustDecimal("358.00")) {
		t.Fatalf("expected total 358.00, got %s", bill.TotalAmount)
	}
	if got := branchStock(t, repo, "HDY-GRY-XL", memory.SeedBranchDowntown); got != 0 {
		t.Fatalf("expected stock drained to 0, got %d", got)
	}
}

func TestCreateBillUnknownSKURejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateBill(cashierCtx(), domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "NOPE-000", Quantity: 1}},
		PaymentMethod: "cash",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateBillAcceptsNegativeTotal(t *testing.T) {
	svc, _ := newTestService()

	bill, err := svc.CreateBill(cashierCtx(), domain.BillCreateRequest{
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		DiscountAmount: mustDecimal("50.00"),
		PaymentMethod:  "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if !bill.TotalAmount.Equal(mustDecimal("-20.01")) {
		t.Fatalf("expected total -20.01, got %s", bill.TotalAmount)
	}
}

func TestBillNumbersShareOneCounterPerBranch(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	first, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("first bill: %v", err)
	}
	second, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("second bill: %v", err)
	}
	if first.BillNumber != "BR-1f6a-00001" || second.BillNumber != "BR-1f6a-00002" {
		t.Fatalf("unexpected numbering: %s then %s", first.BillNumber, second.BillNumber)
	}

	resp, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: first.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		Reason:         "changed mind",
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if resp.ReturnBill.BillNumber != "RET-1f6a-00003" {
		t.Fatalf("expected return to draw from the same counter, got %s", resp.ReturnBill.BillNumber)
	}
}

func TestFullReturnRestoresStockAndReversesCommission(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 5}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	resp, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 5}},
		Reason:         "wrong size",
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}

	if resp.OriginalBillStatus != domain.BillStatusReturned {
		t.Fatalf("expected returned status, got %s", resp.OriginalBillStatus)
	}
	if !resp.RefundAmount.Equal(mustDecimal("149.95")) {
		t.Fatalf("expected refund 149.95, got %s", resp.RefundAmount)
	}
	if !resp.ReturnBill.TotalAmount.Equal(mustDecimal("-149.95")) {
		t.Fatalf("expected reversal total -149.95, got %s", resp.ReturnBill.TotalAmount)
	}
	if resp.ReturnBill.PaymentMethod != "Return" {
		t.Fatalf("expected payment method Return, got %s", resp.ReturnBill.PaymentMethod)
	}
	if got := branchStock(t, repo, "TSH-RED-S", memory.SeedBranchDowntown); got != 30 {
		t.Fatalf("expected stock restored to 30, got %d", got)
	}

	reversal, err := repo.GetCommissionByBillID(context.Background(), resp.ReturnBill.ID)
	if err != nil {
		t.Fatalf("lookup reversal commission: %v", err)
	}
	if !reversal.CommissionAmount.Equal(mustDecimal("-7.50")) {
		t.Fatalf("expected reversal commission -7.50, got %s", reversal.CommissionAmount)
	}
	if reversal.EmployeeID != "emp-cashier-dt" {
		t.Fatalf("reversal credited to %s", reversal.EmployeeID)
	}
}

func TestPartialReturnIsProportional(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	// Subtotal 2x29.99 + 1x32.50 = 92.48, commission 4.62.
	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items: []domain.BillLine{
			{SKU: "TSH-RED-S", Quantity: 2},
			{SKU: "TSH-BLK-L", Quantity: 1},
		},
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	resp, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 2}},
		Reason:         "defective print",
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}

	if resp.OriginalBillStatus != domain.BillStatusPartialReturn {
		t.Fatalf("expected partial-return, got %s", resp.OriginalBillStatus)
	}
	if !resp.RefundAmount.Equal(mustDecimal("59.98")) {
		t.Fatalf("expected refund 59.98, got %s", resp.RefundAmount)
	}

	// 59.98/92.48 of the 4.62 commission, rounded to cents.
	reversal, err := repo.GetCommissionByBillID(context.Background(), resp.ReturnBill.ID)
	if err != nil {
		t.Fatalf("lookup reversal commission: %v", err)
	}
	if !reversal.CommissionAmount.Equal(mustDecimal("-3.00")) {
		t.Fatalf("expected reversal commission -3.00, got %s", reversal.CommissionAmount)
	}
}

func TestReturnRejectsItemNotInBill(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 2}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "JNS-BLU-30", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrItemNotInBill) {
		t.Fatalf("expected item-not-in-bill, got %v", err)
	}
	if got := branchStock(t, repo, "JNS-BLU-30", memory.SeedBranchDowntown); got != 14 {
		t.Fatalf("expected stock unchanged at 14, got %d", got)
	}
}

func TestReturnRejectsExcessiveQuantity(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 2}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 3}},
	})
	if !errors.Is(err, store.ErrExcessiveReturn) {
		t.Fatalf("expected excessive return, got %v", err)
	}
	if got := branchStock(t, repo, "TSH-RED-S", memory.SeedBranchDowntown); got != 28 {
		t.Fatalf("expected stock unchanged at 28, got %d", got)
	}
}

func TestReturnCapIsCumulativeAcrossRequests(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 3}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 2}},
	}); err != nil {
		t.Fatalf("first return: %v", err)
	}

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 2}},
	})
	if !errors.Is(err, store.ErrExcessiveReturn) {
		t.Fatalf("expected cumulative cap to reject second return, got %v", err)
	}

	resp, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("final return: %v", err)
	}
	if resp.OriginalBillStatus != domain.BillStatusReturned {
		t.Fatalf("expected fully returned after last unit, got %s", resp.OriginalBillStatus)
	}
}

func TestReturnOfFullyReturnedBillRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
	}); err != nil {
		t.Fatalf("return: %v", err)
	}

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrAlreadyReturned) {
		t.Fatalf("expected already returned, got %v", err)
	}
}

func TestReversalBillCannotBeReturned(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	resp, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: resp.ReturnBill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for return-of-return, got %v", err)
	}
}

func TestTransferStockMovesBetweenBranchesAndIsLogged(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	transfer, err := svc.TransferStock(ctx, domain.StockTransferRequest{
		SKU:          "TSH-RED-S",
		FromBranchID: memory.SeedBranchDowntown,
		ToBranchID:   memory.SeedBranchRiverside,
		Quantity:     10,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if transfer.TransferredBy != "admin" {
		t.Fatalf("expected transfer recorded against admin, got %s", transfer.TransferredBy)
	}

	if got := branchStock(t, repo, "TSH-RED-S", memory.SeedBranchDowntown); got != 20 {
		t.Fatalf("expected source at 20, got %d", got)
	}
	if got := branchStock(t, repo, "TSH-RED-S", memory.SeedBranchRiverside); got != 10 {
		t.Fatalf("expected destination at 10, got %d", got)
	}

	log, err := svc.ListStockTransfers(ctx, "TSH-RED-S")
	if err != nil {
		t.Fatalf("list transfers: %v", err)
	}
	if len(log) != 1 || log[0].ID != transfer.ID {
		t.Fatalf("expected one logged transfer, got %d", len(log))
	}
}

func TestTransferStockRejectsOverdraw(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.TransferStock(adminCtx(), domain.StockTransferRequest{
		SKU:          "HDY-GRY-XL",
		FromBranchID: memory.SeedBranchRiverside,
		ToBranchID:   memory.SeedBranchDowntown,
		Quantity:     5,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestTransferStockToAndFromBranchWithoutEntry(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	branch, err := svc.CreateBranch(ctx, domain.BranchCreateRequest{
		Name:    "Harbor",
		Address: "2 Pier Rd",
	})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}

	// The new branch has no stock entry for the sku at all.
	_, err = svc.TransferStock(ctx, domain.StockTransferRequest{
		SKU:          "TSH-RED-S",
		FromBranchID: branch.ID,
		ToBranchID:   memory.SeedBranchDowntown,
		Quantity:     1,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock from entry-less branch, got %v", err)
	}

	if _, err = svc.TransferStock(ctx, domain.StockTransferRequest{
		SKU:          "TSH-RED-S",
		FromBranchID: memory.SeedBranchDowntown,
		ToBranchID:   branch.ID,
		Quantity:     10,
	}); err != nil {
		t.Fatalf("transfer to new branch: %v", err)
	}
	if got := branchStock(t, repo, "TSH-RED-S", branch.ID); got != 10 {
		t.Fatalf("expected new entry at 10, got %d", got)
	}
	if got := branchStock(t, repo, "TSH-RED-S", memory.SeedBranchDowntown); got != 20 {
		t.Fatalf("expected source at 20, got %d", got)
	}
}

func TestStockInAccumulates(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.StockIn(adminCtx(), domain.StockInRequest{
		SKU:      "HDY-GRY-XL",
		BranchID: memory.SeedBranchRiverside,
		Quantity: 7,
	})
	if err != nil {
		t.Fatalf("stock in: %v", err)
	}
	if resp.BranchQty != 8 {
		t.Fatalf("expected branch qty 8, got %d", resp.BranchQty)
	}
	if resp.TotalStock != 12 {
		t.Fatalf("expected total 12, got %d", resp.TotalStock)
	}
}

func TestLowStockUsesAggregateAcrossBranches(t *testing.T) {
	svc, _ := newTestService()

	// OXF-BLU-L (3+2) and HDY-GRY-XL (4+1) sit under the default threshold.
	items, err := svc.ListLowStock(adminCtx(), 0)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 low stock variants, got %d", len(items))
	}
	for _, item := range items {
		if item.SKU != "OXF-BLU-L" && item.SKU != "HDY-GRY-XL" {
			t.Fatalf("unexpected low stock sku %s", item.SKU)
		}
	}
}

func TestPayoutMarksPaidAndAllowsRepeat(t *testing.T) {
	svc, repo := newTestService()

	bill, err := svc.CreateBill(cashierCtx(), domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	commission, err := repo.GetCommissionByBillID(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("lookup commission: %v", err)
	}

	resp, err := svc.PayoutCommissions(adminCtx(), domain.CommissionPayoutRequest{
		CommissionIDs: []string{commission.ID},
	})
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if resp.PaidCount != 1 {
		t.Fatalf("expected 1 paid, got %d", resp.PaidCount)
	}

	// A second payout of the same commission is accepted and refreshes paid_at.
	if _, err := svc.PayoutCommissions(adminCtx(), domain.CommissionPayoutRequest{
		CommissionIDs: []string{commission.ID},
	}); err != nil {
		t.Fatalf("repeat payout: %v", err)
	}

	paid, err := repo.GetCommissionByBillID(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("lookup commission: %v", err)
	}
	if paid.Status != domain.CommissionStatusPaid || paid.PaidAt == nil {
		t.Fatalf("expected paid commission with timestamp, got %s", paid.Status)
	}
}

func TestPayoutUnknownCommissionRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.PayoutCommissions(adminCtx(), domain.CommissionPayoutRequest{
		CommissionIDs: []string{"does-not-exist"},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCashierCannotManageEmployeesOrInventory(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	if _, err := svc.ListEmployees(ctx); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for employee list, got %v", err)
	}
	if _, err := svc.StockIn(ctx, domain.StockInRequest{SKU: "TSH-RED-S", BranchID: memory.SeedBranchDowntown, Quantity: 1}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for stock-in, got %v", err)
	}
	if _, err := svc.AllCommissions(ctx); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for all commissions, got %v", err)
	}
}

func TestListBillsIsScopedByRole(t *testing.T) {
	svc, _ := newTestService()

	downtown, err := svc.CreateBill(cashierCtx(), domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("downtown bill: %v", err)
	}

	riverside := WithActor(context.Background(), domain.Actor{
		EmployeeID: "emp-cashier-rs",
		Username:   "cashier.riverside",
		BranchID:   memory.SeedBranchRiverside,
		Role:       domain.RoleCashier,
	})
	if _, err := svc.CreateBill(riverside, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-M", Quantity: 1}},
		PaymentMethod: "cash",
	}); err != nil {
		t.Fatalf("riverside bill: %v", err)
	}

	all, err := svc.ListBills(adminCtx(), domain.BillFilter{})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected admin to see 2 bills, got %d", len(all))
	}

	branchOnly, err := svc.ListBills(managerCtx(), domain.BillFilter{})
	if err != nil {
		t.Fatalf("manager list: %v", err)
	}
	if len(branchOnly) != 1 || branchOnly[0].BranchID != memory.SeedBranchDowntown {
		t.Fatalf("expected manager to see only downtown bills, got %d", len(branchOnly))
	}

	own, err := svc.ListBills(cashierCtx(), domain.BillFilter{})
	if err != nil {
		t.Fatalf("cashier list: %v", err)
	}
	if len(own) != 1 || own[0].ID != downtown.ID {
		t.Fatalf("expected cashier to see only their own bill, got %d", len(own))
	}

	if _, err := svc.GetBill(riverside, downtown.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden cross-branch bill read, got %v", err)
	}
}

func TestSalesReportSeparatesSalesAndReturns(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	bill, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 2}},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalBillID: bill.ID,
		Items:          []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
	}); err != nil {
		t.Fatalf("return: %v", err)
	}

	report, err := svc.SalesReport(adminCtx(), domain.SalesReportFilter{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !report.TotalSales.Equal(mustDecimal("59.98")) {
		t.Fatalf("expected sales 59.98, got %s", report.TotalSales)
	}
	if !report.TotalReturns.Equal(mustDecimal("29.99")) {
		t.Fatalf("expected returns 29.99, got %s", report.TotalReturns)
	}
	if !report.NetSales.Equal(mustDecimal("29.99")) {
		t.Fatalf("expected net 29.99, got %s", report.NetSales)
	}
	if report.TotalTransactions != 1 {
		t.Fatalf("expected 1 sale transaction, got %d", report.TotalTransactions)
	}
	if len(report.ByEmployee) != 1 || report.ByEmployee[0].EmployeeID != "emp-cashier-dt" {
		t.Fatalf("expected one employee row for the cashier")
	}
}

func TestDashboardStatsScopedForManager(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.CreateBill(cashierCtx(), domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-S", Quantity: 1}},
		PaymentMethod: "cash",
	}); err != nil {
		t.Fatalf("downtown bill: %v", err)
	}
	riverside := WithActor(context.Background(), domain.Actor{
		EmployeeID: "emp-cashier-rs",
		Username:   "cashier.riverside",
		BranchID:   memory.SeedBranchRiverside,
		Role:       domain.RoleCashier,
	})
	if _, err := svc.CreateBill(riverside, domain.BillCreateRequest{
		Items:         []domain.BillLine{{SKU: "TSH-RED-M", Quantity: 1}},
		PaymentMethod: "cash",
	}); err != nil {
		t.Fatalf("riverside bill: %v", err)
	}

	stats, err := svc.DashboardStats(managerCtx())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTransactions != 1 {
		t.Fatalf("expected manager stats for one branch bill, got %d", stats.TotalTransactions)
	}
	if !stats.TotalSales.Equal(mustDecimal("29.99")) {
		t.Fatalf("expected branch sales 29.99, got %s", stats.TotalSales)
	}
	if stats.LowStockCount != 2 {
		t.Fatalf("expected 2 low stock variants, got %d", stats.LowStockCount)
	}
}

func TestCreateEmployeeDefaultsCommissionRate(t *testing.T) {
	svc, _ := newTestService()

	employee, err := svc.CreateEmployee(adminCtx(), domain.EmployeeCreateRequest{
		FullName: "Meera Joshi",
		Username: "cashier.downtown2",
		Password: "longenoughpw",
		Role:     "cashier",
		BranchID: memory.SeedBranchDowntown,
	})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	if !employee.CommissionRate.Equal(mustDecimal("0.05")) {
		t.Fatalf("expected default rate 0.05, got %s", employee.CommissionRate)
	}

	rate := mustDecimal("1.5")
	_, err = svc.CreateEmployee(adminCtx(), domain.EmployeeCreateRequest{
		FullName:       "Bad Rate",
		Username:       "bad.rate",
		Password:       "longenoughpw",
		Role:           "cashier",
		BranchID:       memory.SeedBranchDowntown,
		CommissionRate: &rate,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid rate rejection, got %v", err)
	}
}

func TestBarcodeLookupResolvesVariant(t *testing.T) {
	svc, _ := newTestService()

	product, variant, err := svc.FindProductByBarcode(cashierCtx(), "8901001000031")
	if err != nil {
		t.Fatalf("barcode lookup: %v", err)
	}
	if product.Name != "Classic Crew Tee" || variant.SKU != "TSH-BLK-L" {
		t.Fatalf("unexpected match: %s / %s", product.Name, variant.SKU)
	}
}
