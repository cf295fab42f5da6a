package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"stitchpos/backend/internal/cache"
	"stitchpos/backend/internal/domain"
	"stitchpos/backend/internal/notify"
	"stitchpos/backend/internal/payment"
	"stitchpos/backend/internal/store"
)

// ErrForbidden is returned when the acting session's role lacks the
// capability an operation requires.
var ErrForbidden = errors.New("insufficient role")

const (
	defaultLowStockThreshold = 10
	reportCacheTTL           = 5 * time.Minute
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo                  store.Repository
	notifier              notify.Notifier
	gateway               payment.Gateway
	reports               cache.ReportCache
	log                   *logrus.Logger
	defaultCommissionRate decimal.Decimal
}

func New(repo store.Repository, notifier notify.Notifier, gateway payment.Gateway, reports cache.ReportCache, log *logrus.Logger) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if log == nil {
		log = logrus.New()
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{Log: log}
	}
	if gateway == nil {
		gateway = payment.DisabledGateway{}
	}

	return &Service{
		repo:                  repo,
		notifier:              notifier,
		gateway:               gateway,
		reports:               reports,
		log:                   log,
		defaultCommissionRate: decimal.NewFromFloat(0.05),
	}
}

func (s *Service) requireActor(ctx context.Context, cap domain.Capability) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	if cap != "" && !actor.Role.Can(cap) {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// --- branches ---

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	if _, err := s.requireActor(ctx, domain.CapManageBranches); err != nil {
		return domain.Branch{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Branch{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Address:       strings.TrimSpace(req.Address),
		ContactNumber: strings.TrimSpace(req.ContactNumber),
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.Branch{}, err
	}
	return *created, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	if _, err := s.requireActor(ctx, ""); err != nil {
		return nil, err
	}
	return s.repo.ListBranches(ctx)
}

func (s *Service) GetBranch(ctx context.Context, branchID string) (domain.Branch, error) {
	if _, err := s.requireActor(ctx, ""); err != nil {
		return domain.Branch{}, err
	}
	branch, err := s.repo.GetBranchByID(ctx, branchID)
	if err != nil {
		return domain.Branch{}, err
	}
	return *branch, nil
}

// --- employees ---

func (s *Service) CreateEmployee(ctx context.Context, req domain.EmployeeCreateRequest) (domain.Employee, error) {
	if _, err := s.requireActor(ctx, domain.CapManageEmployees); err != nil {
		return domain.Employee{}, err
	}

	req.Username = strings.TrimSpace(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Username == "" || req.FullName == "" || len(req.Password) < 8 {
		return domain.Employee{}, store.ErrInvalidInput
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return domain.Employee{}, store.ErrInvalidInput
	}

	rate := s.defaultCommissionRate
	if req.CommissionRate != nil {
		rate = *req.CommissionRate
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return domain.Employee{}, store.ErrInvalidInput
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Employee{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.repo.CreateEmployee(ctx, domain.Employee{
		ID:             uuid.NewString(),
		FullName:       req.FullName,
		Username:       req.Username,
		PasswordHash:   string(hash),
		Role:           role,
		BranchID:       req.BranchID,
		CommissionRate: rate,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.Employee{}, err
	}
	return *created, nil
}

func (s *Service) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	if _, err := s.requireActor(ctx, domain.CapManageEmployees); err != nil {
		return nil, err
	}
	return s.repo.ListEmployees(ctx)
}

func (s *Service) Me(ctx context.Context) (domain.Employee, error) {
	actor, err := s.requireActor(ctx, "")
	if err != nil {
		return domain.Employee{}, err
	}
	employee, err := s.repo.GetEmployeeByID(ctx, actor.EmployeeID)
	if err != nil {
		return domain.Employee{}, err
	}
	return *employee, nil
}

// --- customers ---

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := s.requireActor(ctx, ""); err != nil {
		return domain.Customer{}, err
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}
	customer, err := s.repo.FindOrCreateCustomer(ctx, phone, strings.TrimSpace(req.Name))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) GetCustomerByPhone(ctx context.Context, phone string) (domain.Customer, error) {
	if _, err := s.requireActor(ctx, ""); err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomerByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	if _, err := s.requireActor(ctx, ""); err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx)
}

// --- catalog ---

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.requireActor(ctx, domain.CapManageCatalog); err != nil {
		return domain.Product{}, err
	}

	product, err := productFromRequest(req)
	if err != nil {
		return domain.Product{}, err
	}
	product.ID = uuid.NewString()
	product.CreatedAt = time.Now().UTC()

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.requireActor(ctx, domain.CapManageCatalog); err != nil {
		return domain.Product{}, err
	}

	product, err := productFromRequest(req)
	if err != nil {
		return domain.Product{}, err
	}

	updated, err := s.repo.UpdateProduct(ctx, productID, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *updated, nil
}

func productFromRequest(req domain.ProductCreateRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(req.Variants) == 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	variants := make([]domain.Variant, 0, len(req.Variants))
	for _, v := range req.Variants {
		sku := strings.ToUpper(strings.TrimSpace(v.SKU))
		if sku == "" || !v.Price.IsPositive() {
			return domain.Product{}, store.ErrInvalidInput
		}
		stock := make(map[string]int, len(v.Stock))
		for branchID, qty := range v.Stock {
			if qty < 0 {
				return domain.Product{}, store.ErrInvalidInput
			}
			stock[branchID] = qty
		}
		variants = append(variants, domain.Variant{
			SKU:     sku,
			Barcode: strings.TrimSpace(v.Barcode),
			Color:   strings.TrimSpace(v.Color),
			Size:    strings.TrimSpace(v.Size),
			Price:   v.Price,
			Stock:   stock,
		})
	}

	return domain.Product{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
		Brand:       strings.TrimSpace(req.Brand),
		Variants:    variants,
	}, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := s.requireActor(ctx, ""); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if _, err := s.requireActor(ctx, ""); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) FindProductByBarcode(ctx context.Context, barcode string) (domain.Product, domain.Variant, error) {
	if _, err := s.requireActor(ctx, ""); err != nil {
		return domain.Product{}, domain.Variant{}, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, domain.Variant{}, store.ErrInvalidInput
	}
	product, variant, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, domain.Variant{}, err
	}
	return *product, *variant, nil
}

// --- stock ledger ---

func (s *Service) StockIn(ctx context.Context, req domain.StockInRequest) (domain.StockInResponse, error) {
	if _, err := s.requireActor(ctx, domain.CapManageInventory); err != nil {
		return domain.StockInResponse{}, err
	}
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	if req.SKU == "" || req.BranchID == "" || req.Quantity < 1 {
		return domain.StockInResponse{}, store.ErrInvalidInput
	}
	resp, err := s.repo.StockIn(ctx, req.SKU, req.BranchID, req.Quantity)
	if err != nil {
		return domain.StockInResponse{}, err
	}
	return *resp, nil
}

func (s *Service) TransferStock(ctx context.Context, req domain.StockTransferRequest) (domain.StockTransfer, error) {
	actor, err := s.requireActor(ctx, domain.CapManageInventory)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	if req.SKU == "" || req.FromBranchID == "" || req.ToBranchID == "" || req.Quantity < 1 {
		return domain.StockTransfer{}, store.ErrInvalidInput
	}
	if req.FromBranchID == req.ToBranchID {
		return domain.StockTransfer{}, store.ErrInvalidInput
	}

	created, err := s.repo.TransferStock(ctx, domain.StockTransfer{
		ID:            uuid.NewString(),
		SKU:           req.SKU,
		FromBranchID:  req.FromBranchID,
		ToBranchID:    req.ToBranchID,
		Quantity:      req.Quantity,
		TransferredBy: actor.Username,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}
	return *created, nil
}

func (s *Service) ListStockTransfers(ctx context.Context, sku string) ([]domain.StockTransfer, error) {
	if _, err := s.requireActor(ctx, domain.CapManageInventory); err != nil {
		return nil, err
	}
	return s.repo.ListStockTransfers(ctx, strings.ToUpper(strings.TrimSpace(sku)))
}

func (s *Service) ListLowStock(ctx context.Context, threshold int) ([]domain.LowStockItem, error) {
	if _, err := s.requireActor(ctx, domain.CapManageInventory); err != nil {
		return nil, err
	}
	if threshold < 1 {
		threshold = defaultLowStockThreshold
	}
	return s.repo.ListLowStock(ctx, threshold)
}

// --- billing ---

func (s *Service) CreateBill(ctx context.Context, req domain.BillCreateRequest) (domain.Bill, error) {
	actor, err := s.requireActor(ctx, domain.CapSell)
	if err != nil {
		return domain.Bill{}, err
	}

	if len(req.Items) == 0 || strings.TrimSpace(req.PaymentMethod) == "" {
		return domain.Bill{}, store.ErrInvalidInput
	}

	employee, err := s.repo.GetEmployeeByID(ctx, actor.EmployeeID)
	if err != nil {
		return domain.Bill{}, fmt.Errorf("resolve acting employee: %w", err)
	}
	branchID := employee.BranchID

	var customerID, customerPhone string
	if phone := strings.TrimSpace(req.CustomerPhone); phone != "" {
		customer, err := s.repo.FindOrCreateCustomer(ctx, phone, strings.TrimSpace(req.CustomerName))
		if err != nil {
			return domain.Bill{}, fmt.Errorf("resolve customer: %w", err)
		}
		customerID = customer.ID
		customerPhone = customer.PhoneNumber
	}

	subtotal := decimal.Zero
	items := make([]domain.BillItem, 0, len(req.Items))
	for _, line := range req.Items {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if sku == "" || line.Quantity < 1 {
			return domain.Bill{}, store.ErrInvalidInput
		}
		product, variant, err := s.repo.GetVariantBySKU(ctx, sku)
		if err != nil {
			return domain.Bill{}, err
		}
		lineTotal := variant.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, domain.BillItem{
			ProductID:   product.ID,
			SKU:         variant.SKU,
			ProductName: product.Name,
			Color:       variant.Color,
			Size:        variant.Size,
			Quantity:    line.Quantity,
			UnitPrice:   variant.Price,
			LineTotal:   lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	// Discount may exceed the subtotal; a negative total is accepted.
	total := subtotal.Sub(req.DiscountAmount)

	seq, err := s.repo.NextBillSeq(ctx, branchID)
	if err != nil {
		return domain.Bill{}, fmt.Errorf("allocate bill number: %w", err)
	}

	now := time.Now().UTC()
	bill := domain.Bill{
		ID:             uuid.NewString(),
		BillNumber:     formatBillNumber("BR", branchID, seq),
		BranchID:       branchID,
		EmployeeID:     employee.ID,
		CustomerID:     customerID,
		Items:          items,
		Subtotal:       subtotal,
		DiscountAmount: req.DiscountAmount,
		TotalAmount:    total,
		PaymentMethod:  strings.TrimSpace(req.PaymentMethod),
		Status:         domain.BillStatusCompleted,
		CreatedAt:      now,
	}
	commission := &domain.Commission{
		ID:               uuid.NewString(),
		EmployeeID:       employee.ID,
		BillID:           bill.ID,
		SaleAmount:       total,
		CommissionRate:   employee.CommissionRate,
		CommissionAmount: total.Mul(employee.CommissionRate).Round(2),
		Status:           domain.CommissionStatusPending,
		CreatedAt:        now,
	}

	created, err := s.repo.CreateBill(ctx, bill, commission)
	if err != nil {
		return domain.Bill{}, err
	}

	if customerPhone != "" {
		s.sendBillSMS(ctx, *created, customerPhone)
	}

	s.log.WithFields(logrus.Fields{
		"bill_number": created.BillNumber,
		"branch_id":   created.BranchID,
		"employee":    employee.Username,
		"total":       created.TotalAmount.String(),
	}).Info("bill created")

	return *created, nil
}

// sendBillSMS delivers the receipt summary in the background. Delivery
// failure never affects the committed bill.
func (s *Service) sendBillSMS(ctx context.Context, bill domain.Bill, phone string) {
	branchName := bill.BranchID
	if branch, err := s.repo.GetBranchByID(ctx, bill.BranchID); err == nil {
		branchName = branch.Name
	}
	text := formatBillSMS(branchName, bill)

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.Send(sendCtx, phone, text); err != nil {
			s.log.WithFields(logrus.Fields{
				"bill_number": bill.BillNumber,
				"error":       err.Error(),
			}).Warn("bill sms failed")
		}
	}()
}

func formatBillNumber(prefix string, branchID string, seq int64) string {
	branch4 := branchID
	if len(branch4) > 4 {
		branch4 = branch4[:4]
	}
	return fmt.Sprintf("%s-%s-%05d", prefix, branch4, seq)
}

func formatBillSMS(branchName string, bill domain.Bill) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for shopping at %s!\n", branchName)
	fmt.Fprintf(&b, "Bill %s\n", bill.BillNumber)
	for i, item := range bill.Items {
		if i == 3 {
			fmt.Fprintf(&b, "...and %d more item(s)\n", len(bill.Items)-3)
			break
		}
		fmt.Fprintf(&b, "%s x%d = %s\n", item.ProductName, item.Quantity, item.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s", bill.TotalAmount.StringFixed(2))
	return b.String()
}

func (s *Service) GetBill(ctx context.Context, billID string) (domain.Bill, error) {
	actor, err := s.requireActor(ctx, "")
	if err != nil {
		return domain.Bill{}, err
	}
	bill, err := s.repo.GetBillByID(ctx, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	if !canViewBill(actor, *bill) {
		return domain.Bill{}, ErrForbidden
	}
	return *bill, nil
}

func canViewBill(actor domain.Actor, bill domain.Bill) bool {
	switch {
	case actor.Role.Can(domain.CapViewAllBills):
		return true
	case actor.Role.Can(domain.CapViewBranchBills):
		return bill.BranchID == actor.BranchID
	default:
		return bill.EmployeeID == actor.EmployeeID
	}
}

// ListBills scopes results by role: admins see every branch, managers their
// own branch, cashiers only their own bills.
func (s *Service) ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	actor, err := s.requireActor(ctx, "")
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Role.Can(domain.CapViewAllBills):
	case actor.Role.Can(domain.CapViewBranchBills):
		filter.BranchID = actor.BranchID
	default:
		filter.EmployeeID = actor.EmployeeID
	}
	return s.repo.ListBills(ctx, filter)
}

// --- returns ---

func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	actor, err := s.requireActor(ctx, domain.CapProcessReturns)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if req.OriginalBillID == "" || len(req.Items) == 0 {
		return domain.ReturnResponse{}, store.ErrInvalidInput
	}

	original, err := s.repo.GetBillByID(ctx, req.OriginalBillID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if original.RelatedBillID != "" {
		// Reversal bills cannot themselves be returned.
		return domain.ReturnResponse{}, store.ErrInvalidInput
	}
	if original.Status == domain.BillStatusReturned {
		return domain.ReturnResponse{}, store.ErrAlreadyReturned
	}

	originalItems := make(map[string]domain.BillItem, len(original.Items))
	for _, item := range original.Items {
		originalItems[item.SKU] = item
	}
	returnedQty, err := s.repo.GetReturnedQtyByBill(ctx, original.ID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	returnTotal := decimal.Zero
	items := make([]domain.BillItem, 0, len(req.Items))
	for _, line := range req.Items {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if sku == "" || line.Quantity < 1 {
			return domain.ReturnResponse{}, store.ErrInvalidInput
		}
		origItem, inBill := originalItems[sku]
		if !inBill {
			return domain.ReturnResponse{}, store.ErrItemNotInBill
		}
		if returnedQty[sku]+line.Quantity > origItem.Quantity {
			return domain.ReturnResponse{}, store.ErrExcessiveReturn
		}
		lineTotal := origItem.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, domain.BillItem{
			ProductID:   origItem.ProductID,
			SKU:         origItem.SKU,
			ProductName: origItem.ProductName,
			Color:       origItem.Color,
			Size:        origItem.Size,
			Quantity:    line.Quantity,
			UnitPrice:   origItem.UnitPrice,
			LineTotal:   lineTotal,
		})
		returnTotal = returnTotal.Add(lineTotal)
	}

	seq, err := s.repo.NextBillSeq(ctx, original.BranchID)
	if err != nil {
		return domain.ReturnResponse{}, fmt.Errorf("allocate bill number: %w", err)
	}

	now := time.Now().UTC()
	reversal := domain.Bill{
		ID:             uuid.NewString(),
		BillNumber:     formatBillNumber("RET", original.BranchID, seq),
		BranchID:       original.BranchID,
		EmployeeID:     actor.EmployeeID,
		CustomerID:     original.CustomerID,
		Items:          items,
		Subtotal:       returnTotal.Neg(),
		DiscountAmount: decimal.Zero,
		TotalAmount:    returnTotal.Neg(),
		PaymentMethod:  "Return",
		Status:         domain.BillStatusReturned,
		RelatedBillID:  original.ID,
		ReturnReason:   strings.TrimSpace(req.Reason),
		CreatedAt:      now,
	}

	reversalCommission := s.buildReversalCommission(ctx, *original, reversal.ID, returnTotal, now)

	created, newStatus, err := s.repo.CreateReturnBill(ctx, reversal, reversalCommission)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	s.log.WithFields(logrus.Fields{
		"return_bill":   created.BillNumber,
		"original_bill": original.BillNumber,
		"refund":        returnTotal.String(),
		"new_status":    string(newStatus),
	}).Info("return processed")

	return domain.ReturnResponse{
		ReturnBill:         *created,
		RefundAmount:       returnTotal,
		OriginalBillStatus: newStatus,
	}, nil
}

// buildReversalCommission computes the proportional negative commission for
// a return. It credits the employee who earned the original commission, not
// the employee processing the return. A missing original commission or a
// zero-total original bill yields no reversal entry.
func (s *Service) buildReversalCommission(ctx context.Context, original domain.Bill, reversalBillID string, returnTotal decimal.Decimal, now time.Time) *domain.Commission {
	origCommission, err := s.repo.GetCommissionByBillID(ctx, original.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.WithField("bill_id", original.ID).WithError(err).Warn("lookup original commission failed")
		}
		return nil
	}
	if original.TotalAmount.IsZero() {
		s.log.WithField("bill_id", original.ID).Warn("zero-total bill, skipping commission reversal")
		return nil
	}

	ratio := returnTotal.Div(original.TotalAmount)
	reverseAmount := ratio.Mul(origCommission.CommissionAmount).Round(2)

	return &domain.Commission{
		ID:               uuid.NewString(),
		EmployeeID:       origCommission.EmployeeID,
		BillID:           reversalBillID,
		SaleAmount:       returnTotal.Neg(),
		CommissionRate:   origCommission.CommissionRate,
		CommissionAmount: reverseAmount.Neg(),
		Status:           domain.CommissionStatusPending,
		CreatedAt:        now,
	}
}

// --- commissions ---

func (s *Service) MyCommissions(ctx context.Context) ([]domain.Commission, error) {
	actor, err := s.requireActor(ctx, "")
	if err != nil {
		return nil, err
	}
	return s.repo.ListCommissions(ctx, actor.EmployeeID)
}

func (s *Service) AllCommissions(ctx context.Context) ([]domain.Commission, error) {
	if _, err := s.requireActor(ctx, domain.CapViewAllCommissions); err != nil {
		return nil, err
	}
	return s.repo.ListCommissions(ctx, "")
}

func (s *Service) PayoutCommissions(ctx context.Context, req domain.CommissionPayoutRequest) (domain.CommissionPayoutResponse, error) {
	if _, err := s.requireActor(ctx, domain.CapPayoutCommission); err != nil {
		return domain.CommissionPayoutResponse{}, err
	}
	if len(req.CommissionIDs) == 0 {
		return domain.CommissionPayoutResponse{}, store.ErrInvalidInput
	}
	paid, err := s.repo.PayoutCommissions(ctx, req.CommissionIDs, time.Now().UTC())
	if err != nil {
		return domain.CommissionPayoutResponse{}, err
	}
	return domain.CommissionPayoutResponse{PaidCount: paid}, nil
}

// --- payments ---

func (s *Service) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntentResponse, error) {
	if _, err := s.requireActor(ctx, domain.CapSell); err != nil {
		return domain.PaymentIntentResponse{}, err
	}
	intent, err := s.gateway.CreateIntent(ctx, req.Amount, req.Currency)
	if err != nil {
		return domain.PaymentIntentResponse{}, err
	}
	return domain.PaymentIntentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
	}, nil
}

// --- reporting ---

func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	actor, err := s.requireActor(ctx, domain.CapViewReports)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	filter := domain.BillFilter{}
	if !actor.Role.Can(domain.CapViewAllBills) {
		filter.BranchID = actor.BranchID
	}
	bills, err := s.repo.ListBills(ctx, filter)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	stats := domain.DashboardStats{
		TotalSales:       decimal.Zero,
		AverageBillValue: decimal.Zero,
		TotalReturns:     decimal.Zero,
	}
	for _, b := range bills {
		if b.RelatedBillID != "" {
			stats.TotalReturns = stats.TotalReturns.Add(b.TotalAmount.Neg())
			continue
		}
		stats.TotalSales = stats.TotalSales.Add(b.TotalAmount)
		stats.TotalTransactions++
	}
	if stats.TotalTransactions > 0 {
		stats.AverageBillValue = stats.TotalSales.Div(decimal.NewFromInt(int64(stats.TotalTransactions))).Round(2)
	}

	lowStock, err := s.repo.ListLowStock(ctx, defaultLowStockThreshold)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	stats.LowStockCount = len(lowStock)

	return stats, nil
}

func (s *Service) SalesReport(ctx context.Context, filter domain.SalesReportFilter) (domain.SalesReport, error) {
	actor, err := s.requireActor(ctx, domain.CapViewReports)
	if err != nil {
		return domain.SalesReport{}, err
	}
	if !actor.Role.Can(domain.CapViewAllBills) {
		filter.BranchID = actor.BranchID
	}

	key := reportCacheKey(filter)
	if cached, hit, err := s.reports.Get(ctx, key); err != nil {
		s.log.WithError(err).Warn("report cache read failed")
	} else if hit {
		return *cached, nil
	}

	bills, err := s.repo.ListBills(ctx, domain.BillFilter{
		BranchID:   filter.BranchID,
		EmployeeID: filter.EmployeeID,
		From:       filter.From,
		To:         filter.To,
	})
	if err != nil {
		return domain.SalesReport{}, err
	}

	report := domain.SalesReport{
		TotalSales:   decimal.Zero,
		TotalReturns: decimal.Zero,
		NetSales:     decimal.Zero,
	}
	perEmployee := map[string]*domain.SalesByEmployee{}
	for _, b := range bills {
		if b.RelatedBillID != "" {
			report.TotalReturns = report.TotalReturns.Add(b.TotalAmount.Neg())
			continue
		}
		report.TotalSales = report.TotalSales.Add(b.TotalAmount)
		report.TotalTransactions++

		agg, ok := perEmployee[b.EmployeeID]
		if !ok {
			agg = &domain.SalesByEmployee{EmployeeID: b.EmployeeID, TotalSales: decimal.Zero}
			perEmployee[b.EmployeeID] = agg
		}
		agg.BillCount++
		agg.TotalSales = agg.TotalSales.Add(b.TotalAmount)
	}
	report.NetSales = report.TotalSales.Sub(report.TotalReturns)

	for employeeID, agg := range perEmployee {
		if employee, err := s.repo.GetEmployeeByID(ctx, employeeID); err == nil {
			agg.FullName = employee.FullName
		}
		report.ByEmployee = append(report.ByEmployee, *agg)
	}
	sort.SliceStable(report.ByEmployee, func(i, j int) bool {
		return report.ByEmployee[i].TotalSales.GreaterThan(report.ByEmployee[j].TotalSales)
	})

	if err := s.reports.Set(ctx, key, &report, reportCacheTTL); err != nil {
		s.log.WithError(err).Warn("report cache write failed")
	}
	return report, nil
}

func reportCacheKey(filter domain.SalesReportFilter) string {
	from, to := "", ""
	if filter.From != nil {
		from = filter.From.UTC().Format(time.RFC3339)
	}
	if filter.To != nil {
		to = filter.To.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("report:%s:%s:%s:%s", filter.BranchID, filter.EmployeeID, from, to)
}
