package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stitchpos/backend/internal/domain"
	"stitchpos/backend/internal/store"
)

type Store struct {
	mu               sync.RWMutex
	branches         map[string]domain.Branch
	employees        map[string]domain.Employee
	usernameIndex    map[string]string
	customersByPhone map[string]domain.Customer
	products         map[string]domain.Product
	skuIndex         map[string]string
	barcodeIndex     map[string]string
	bills            map[string]*domain.Bill
	billOrder        []string
	commissions      map[string]*domain.Commission
	commissionByBill map[string]string
	billSeqByBranch  map[string]int64
	transfers        []domain.StockTransfer
}

const (
	SeedBranchDowntown  = "1f6a7c9e-downtown"
	SeedBranchRiverside = "8b2d4e10-riverside"
)

// seedEmployees builds the initial accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedEmployees() (map[string]domain.Employee, map[string]string) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	defaultRate := decimal.NewFromFloat(0.05)
	employees := map[string]domain.Employee{}
	usernames := map[string]string{}
	for _, e := range []struct {
		id       string
		fullName string
		username string
		password string
		role     domain.Role
		branchID string
	}{
		{"emp-admin", "Asha Pillai", "admin", adminPwd, domain.RoleAdmin, SeedBranchDowntown},
		{"emp-manager-dt", "Rohan Mehta", "manager.downtown", managerPwd, domain.RoleManager, SeedBranchDowntown},
		{"emp-cashier-dt", "Divya Nair", "cashier.downtown", cashierPwd, domain.RoleCashier, SeedBranchDowntown},
		{"emp-cashier-rs", "Karthik Rao", "cashier.riverside", cashierPwd, domain.RoleCashier, SeedBranchRiverside},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(e.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", e.username, err)
		}
		employees[e.id] = domain.Employee{
			ID:             e.id,
			FullName:       e.fullName,
			Username:       e.username,
			PasswordHash:   string(hash),
			Role:           e.role,
			BranchID:       e.branchID,
			CommissionRate: defaultRate,
			Active:         true,
			CreatedAt:      now,
		}
		usernames[e.username] = e.id
	}
	return employees, usernames
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	branches := map[string]domain.Branch{
		SeedBranchDowntown: {
			ID:            SeedBranchDowntown,
			Name:          "Downtown Flagship",
			Address:       "12 MG Road",
			ContactNumber: "+919800011111",
			Active:        true,
			CreatedAt:     now,
		},
		SeedBranchRiverside: {
			ID:            SeedBranchRiverside,
			Name:          "Riverside Outlet",
			Address:       "4 Marine Drive",
			ContactNumber: "+919800022222",
			Active:        true,
			CreatedAt:     now,
		},
	}

	price := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }
	products := []domain.Product{
		{
			ID: "prod-crew-tee", Name: "Classic Crew Tee", Description: "Everyday cotton tee",
			Category: "tshirts", Brand: "Stitch&Co", CreatedAt: now,
			Variants: []domain.Variant{
				{SKU: "TSH-RED-S", Barcode: "8901001000017", Color: "red", Size: "S", Price: price("29.99"), Stock: map[string]int{SeedBranchDowntown: 30, SeedBranchRiverside: 0}},
				{SKU: "TSH-RED-M", Barcode: "8901001000024", Color: "red", Size: "M", Price: price("29.99"), Stock: map[string]int{SeedBranchDowntown: 25, SeedBranchRiverside: 15}},
				{SKU: "TSH-BLK-L", Barcode: "8901001000031", Color: "black", Size: "L", Price: price("32.50"), Stock: map[string]int{SeedBranchDowntown: 18, SeedBranchRiverside: 12}},
			},
		},
		{
			ID: "prod-slim-jeans", Name: "Slim Fit Jeans", Description: "Stretch denim",
			Category: "jeans", Brand: "Stitch&Co", CreatedAt: now,
			Variants: []domain.Variant{
				{SKU: "JNS-BLU-30", Barcode: "8901001000116", Color: "blue", Size: "30", Price: price("79.00"), Stock: map[string]int{SeedBranchDowntown: 14, SeedBranchRiverside: 8}},
				{SKU: "JNS-BLU-32", Barcode: "8901001000123", Color: "blue", Size: "32", Price: price("79.00"), Stock: map[string]int{SeedBranchDowntown: 20, SeedBranchRiverside: 10}},
			},
		},
		{
			ID: "prod-oxford-shirt", Name: "Oxford Button-Down", Description: "Classic oxford weave shirt",
			Category: "shirts", Brand: "Harbor Lane", CreatedAt: now,
			Variants: []domain.Variant{
				{SKU: "OXF-WHT-M", Barcode: "8901001000215", Color: "white", Size: "M", Price: price("54.00"), Stock: map[string]int{SeedBranchDowntown: 12, SeedBranchRiverside: 6}},
				{SKU: "OXF-BLU-L", Barcode: "8901001000222", Color: "blue", Size: "L", Price: price("54.00"), Stock: map[string]int{SeedBranchDowntown: 3, SeedBranchRiverside: 2}},
			},
		},
		{
			ID: "prod-hoodie", Name: "Heavyweight Hoodie", Description: "Fleece lined",
			Category: "outerwear", Brand: "Harbor Lane", CreatedAt: now,
			Variants: []domain.Variant{
				{SKU: "HDY-GRY-XL", Barcode: "8901001000314", Color: "grey", Size: "XL", Price: price("89.50"), Stock: map[string]int{SeedBranchDowntown: 4, SeedBranchRiverside: 1}},
			},
		},
	}

	productMap := make(map[string]domain.Product, len(products))
	skuIndex := make(map[string]string)
	barcodeIndex := make(map[string]string)
	for _, p := range products {
		productMap[p.ID] = p
		for _, v := range p.Variants {
			skuIndex[v.SKU] = p.ID
			if v.Barcode != "" {
				barcodeIndex[v.Barcode] = p.ID
			}
		}
	}

	employees, usernames := seedEmployees()

	return &Store{
		branches:         branches,
		employees:        employees,
		usernameIndex:    usernames,
		customersByPhone: make(map[string]domain.Customer),
		products:         productMap,
		skuIndex:         skuIndex,
		barcodeIndex:     barcodeIndex,
		bills:            make(map[string]*domain.Bill),
		billOrder:        make([]string, 0, 64),
		commissions:      make(map[string]*domain.Commission),
		commissionByBill: make(map[string]string),
		billSeqByBranch:  make(map[string]int64),
		transfers:        make([]domain.StockTransfer, 0, 32),
	}
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	branch.Active = true
	s.branches[branch.ID] = branch
	created := branch
	return &created, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		return cmpString(a.Name, b.Name)
	})
	return branches, nil
}

func (s *Store) GetBranchByID(_ context.Context, branchID string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, exists := s.branches[branchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBranch := branch
	return &copyBranch, nil
}

func (s *Store) CreateEmployee(_ context.Context, employee domain.Employee) (*domain.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if employee.Username == "" || employee.FullName == "" || employee.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.usernameIndex[employee.Username]; exists {
		return nil, store.ErrDuplicate
	}
	if _, exists := s.branches[employee.BranchID]; !exists {
		return nil, store.ErrNotFound
	}
	if employee.ID == "" {
		employee.ID = uuid.NewString()
	}
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = time.Now().UTC()
	}
	employee.Active = true
	s.employees[employee.ID] = employee
	s.usernameIndex[employee.Username] = employee.ID
	created := employee
	return &created, nil
}

func (s *Store) ListEmployees(_ context.Context) ([]domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	employees := make([]domain.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		employees = append(employees, e)
	}
	slices.SortFunc(employees, func(a, b domain.Employee) int {
		return cmpString(a.Username, b.Username)
	})
	return employees, nil
}

func (s *Store) GetEmployeeByID(_ context.Context, employeeID string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	employee, exists := s.employees[employeeID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyEmployee := employee
	return &copyEmployee, nil
}

func (s *Store) GetEmployeeByUsername(_ context.Context, username string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.usernameIndex[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	employee := s.employees[id]
	copyEmployee := employee
	return &copyEmployee, nil
}

func (s *Store) FindOrCreateCustomer(_ context.Context, phoneNumber string, name string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if phoneNumber == "" {
		return nil, store.ErrInvalidInput
	}
	if existing, exists := s.customersByPhone[phoneNumber]; exists {
		copyCustomer := existing
		return &copyCustomer, nil
	}
	customer := domain.Customer{
		ID:          uuid.NewString(),
		PhoneNumber: phoneNumber,
		Name:        name,
		CreatedAt:   time.Now().UTC(),
	}
	s.customersByPhone[phoneNumber] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByPhone(_ context.Context, phoneNumber string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByPhone[phoneNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByPhone))
	for _, c := range s.customersByPhone {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.PhoneNumber, b.PhoneNumber)
	})
	return customers, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateProductLocked(product, ""); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	stored := cloneProduct(product)
	s.products[stored.ID] = stored
	s.indexVariantsLocked(stored)
	created := cloneProduct(stored)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, productID string, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if err := s.validateProductLocked(product, productID); err != nil {
		return nil, err
	}

	for _, v := range existing.Variants {
		delete(s.skuIndex, v.SKU)
		if v.Barcode != "" {
			delete(s.barcodeIndex, v.Barcode)
		}
	}

	product.ID = productID
	product.CreatedAt = existing.CreatedAt
	stored := cloneProduct(product)
	s.products[productID] = stored
	s.indexVariantsLocked(stored)
	updated := cloneProduct(stored)
	return &updated, nil
}

func (s *Store) validateProductLocked(product domain.Product, selfID string) error {
	if product.Name == "" || len(product.Variants) == 0 {
		return store.ErrInvalidInput
	}
	seen := map[string]bool{}
	for _, v := range product.Variants {
		if v.SKU == "" || !v.Price.IsPositive() || seen[v.SKU] {
			return store.ErrInvalidInput
		}
		seen[v.SKU] = true
		if ownerID, taken := s.skuIndex[v.SKU]; taken && ownerID != selfID {
			return store.ErrDuplicate
		}
		if v.Barcode != "" {
			if ownerID, taken := s.barcodeIndex[v.Barcode]; taken && ownerID != selfID {
				return store.ErrDuplicate
			}
		}
		for _, qty := range v.Stock {
			if qty < 0 {
				return store.ErrInvalidInput
			}
		}
	}
	return nil
}

func (s *Store) indexVariantsLocked(product domain.Product) {
	for _, v := range product.Variants {
		s.skuIndex[v.SKU] = product.ID
		if v.Barcode != "" {
			s.barcodeIndex[v.Barcode] = product.ID
		}
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) GetVariantBySKU(_ context.Context, sku string) (*domain.Product, *domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.variantBySKULocked(sku)
}

func (s *Store) variantBySKULocked(sku string) (*domain.Product, *domain.Variant, error) {
	productID, exists := s.skuIndex[sku]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	product := cloneProduct(s.products[productID])
	for i := range product.Variants {
		if product.Variants[i].SKU == sku {
			return &product, &product.Variants[i], nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, *domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	productID, exists := s.barcodeIndex[barcode]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	product := cloneProduct(s.products[productID])
	for i := range product.Variants {
		if product.Variants[i].Barcode == barcode {
			return &product, &product.Variants[i], nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (s *Store) StockIn(_ context.Context, sku string, branchID string, qty int) (*domain.StockInResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.branches[branchID]; !exists {
		return nil, store.ErrNotFound
	}
	variant, err := s.mutableVariantLocked(sku)
	if err != nil {
		return nil, err
	}
	if variant.Stock == nil {
		variant.Stock = map[string]int{}
	}
	variant.Stock[branchID] += qty

	return &domain.StockInResponse{
		SKU:        sku,
		BranchID:   branchID,
		BranchQty:  variant.Stock[branchID],
		TotalStock: variant.TotalStock(),
	}, nil
}

func (s *Store) TransferStock(_ context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if transfer.Quantity < 1 || transfer.FromBranchID == transfer.ToBranchID {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.branches[transfer.FromBranchID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.branches[transfer.ToBranchID]; !exists {
		return nil, store.ErrNotFound
	}
	variant, err := s.mutableVariantLocked(transfer.SKU)
	if err != nil {
		return nil, err
	}
	if variant.Stock == nil {
		variant.Stock = map[string]int{}
	}
	if variant.Stock[transfer.FromBranchID] < transfer.Quantity {
		return nil, store.ErrInsufficientStock
	}
	variant.Stock[transfer.FromBranchID] -= transfer.Quantity
	variant.Stock[transfer.ToBranchID] += transfer.Quantity

	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	s.transfers = append(s.transfers, transfer)
	created := transfer
	return &created, nil
}

func (s *Store) ListStockTransfers(_ context.Context, sku string) ([]domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfers := make([]domain.StockTransfer, 0, len(s.transfers))
	for i := len(s.transfers) - 1; i >= 0; i-- {
		t := s.transfers[i]
		if sku != "" && t.SKU != sku {
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

func (s *Store) ListLowStock(_ context.Context, threshold int) ([]domain.LowStockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.LowStockItem, 0)
	for _, p := range s.products {
		for _, v := range p.Variants {
			total := v.TotalStock()
			if total >= threshold {
				continue
			}
			stock := make(map[string]int, len(v.Stock))
			for branchID, qty := range v.Stock {
				stock[branchID] = qty
			}
			items = append(items, domain.LowStockItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				SKU:         v.SKU,
				Color:       v.Color,
				Size:        v.Size,
				Stock:       stock,
				TotalStock:  total,
			})
		}
	}
	slices.SortFunc(items, func(a, b domain.LowStockItem) int {
		if a.TotalStock == b.TotalStock {
			return cmpString(a.SKU, b.SKU)
		}
		return a.TotalStock - b.TotalStock
	})
	return items, nil
}

// mutableVariantLocked returns a pointer into the stored product so callers
// holding the write lock can adjust stock in place.
func (s *Store) mutableVariantLocked(sku string) (*domain.Variant, error) {
	productID, exists := s.skuIndex[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	product := s.products[productID]
	for i := range product.Variants {
		if product.Variants[i].SKU == sku {
			return &product.Variants[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) NextBillSeq(_ context.Context, branchID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.branches[branchID]; !exists {
		return 0, store.ErrNotFound
	}
	s.billSeqByBranch[branchID]++
	return s.billSeqByBranch[branchID], nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill, commission *domain.Commission) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(bill.Items) == 0 || bill.ID == "" || bill.BillNumber == "" {
		return nil, store.ErrInvalidInput
	}

	// Verify every line before touching any stock so a failing line leaves
	// earlier lines untouched. Demand accumulates per sku so repeated lines
	// are checked against their combined quantity, not each in isolation.
	variants := make([]*domain.Variant, 0, len(bill.Items))
	demand := make(map[string]int, len(bill.Items))
	for _, item := range bill.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		variant, err := s.mutableVariantLocked(item.SKU)
		if err != nil {
			return nil, err
		}
		demand[item.SKU] += item.Quantity
		if variant.Stock[bill.BranchID] < demand[item.SKU] {
			return nil, store.ErrInsufficientStock
		}
		variants = append(variants, variant)
	}
	for i, item := range bill.Items {
		variants[i].Stock[bill.BranchID] -= item.Quantity
	}

	stored := cloneBill(&bill)
	s.bills[stored.ID] = stored
	s.billOrder = append(s.billOrder, stored.ID)
	if commission != nil {
		storedCommission := cloneCommission(commission)
		s.commissions[storedCommission.ID] = storedCommission
		s.commissionByBill[stored.ID] = storedCommission.ID
	}
	return cloneBill(stored), nil
}

func (s *Store) CreateReturnBill(_ context.Context, reversal domain.Bill, commission *domain.Commission) (*domain.Bill, domain.BillStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, exists := s.bills[reversal.RelatedBillID]
	if !exists {
		return nil, "", store.ErrNotFound
	}
	if original.Status == domain.BillStatusReturned {
		return nil, "", store.ErrAlreadyReturned
	}

	originalQty := make(map[string]int, len(original.Items))
	for _, item := range original.Items {
		originalQty[item.SKU] += item.Quantity
	}
	returnedQty := s.returnedQtyLocked(original.ID)

	if len(reversal.Items) == 0 {
		return nil, "", store.ErrInvalidInput
	}
	for _, item := range reversal.Items {
		if item.Quantity < 1 {
			return nil, "", store.ErrInvalidInput
		}
		sold, inBill := originalQty[item.SKU]
		if !inBill {
			return nil, "", store.ErrItemNotInBill
		}
		if returnedQty[item.SKU]+item.Quantity > sold {
			return nil, "", store.ErrExcessiveReturn
		}
	}

	for _, item := range reversal.Items {
		variant, err := s.mutableVariantLocked(item.SKU)
		if err != nil {
			// Variants can be removed from the catalog after a sale; the
			// refund still goes through, there is just no shelf to restock.
			continue
		}
		if variant.Stock == nil {
			variant.Stock = map[string]int{}
		}
		variant.Stock[reversal.BranchID] += item.Quantity
	}

	stored := cloneBill(&reversal)
	s.bills[stored.ID] = stored
	s.billOrder = append(s.billOrder, stored.ID)
	if commission != nil {
		storedCommission := cloneCommission(commission)
		s.commissions[storedCommission.ID] = storedCommission
		s.commissionByBill[stored.ID] = storedCommission.ID
	}

	cumulative := s.returnedQtyLocked(original.ID)
	newStatus := domain.BillStatusReturned
	for sku, sold := range originalQty {
		if cumulative[sku] < sold {
			newStatus = domain.BillStatusPartialReturn
			break
		}
	}
	original.Status = newStatus

	return cloneBill(stored), newStatus, nil
}

func (s *Store) returnedQtyLocked(billID string) map[string]int {
	returned := map[string]int{}
	for _, id := range s.billOrder {
		b := s.bills[id]
		if b.RelatedBillID != billID {
			continue
		}
		for _, item := range b.Items {
			returned[item.SKU] += item.Quantity
		}
	}
	return returned
}

func (s *Store) GetBillByID(_ context.Context, billID string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.bills[billID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneBill(bill), nil
}

func (s *Store) ListBills(_ context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.billOrder))
	for i := len(s.billOrder) - 1; i >= 0; i-- {
		b := s.bills[s.billOrder[i]]
		if filter.BranchID != "" && b.BranchID != filter.BranchID {
			continue
		}
		if filter.EmployeeID != "" && b.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.CustomerID != "" && b.CustomerID != filter.CustomerID {
			continue
		}
		if filter.From != nil && b.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && b.CreatedAt.After(*filter.To) {
			continue
		}
		bills = append(bills, *cloneBill(b))
	}
	return bills, nil
}

func (s *Store) GetReturnedQtyByBill(_ context.Context, billID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnedQtyLocked(billID), nil
}

func (s *Store) GetCommissionByBillID(_ context.Context, billID string) (*domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	commissionID, exists := s.commissionByBill[billID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneCommission(s.commissions[commissionID]), nil
}

func (s *Store) ListCommissions(_ context.Context, employeeID string) ([]domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	commissions := make([]domain.Commission, 0, len(s.commissions))
	for _, c := range s.commissions {
		if employeeID != "" && c.EmployeeID != employeeID {
			continue
		}
		commissions = append(commissions, *cloneCommission(c))
	}
	slices.SortFunc(commissions, func(a, b domain.Commission) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return commissions, nil
}

func (s *Store) PayoutCommissions(_ context.Context, commissionIDs []string, paidAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range commissionIDs {
		if _, exists := s.commissions[id]; !exists {
			return 0, store.ErrNotFound
		}
	}
	// Re-payout is allowed and refreshes paidAt.
	for _, id := range commissionIDs {
		c := s.commissions[id]
		at := paidAt
		c.Status = domain.CommissionStatusPaid
		c.PaidAt = &at
	}
	return len(commissionIDs), nil
}

func cmpString(a string, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cloneProduct(src domain.Product) domain.Product {
	out := src
	out.Variants = make([]domain.Variant, len(src.Variants))
	for i, v := range src.Variants {
		cv := v
		cv.Stock = make(map[string]int, len(v.Stock))
		for branchID, qty := range v.Stock {
			cv.Stock[branchID] = qty
		}
		out.Variants[i] = cv
	}
	return out
}

func cloneBill(src *domain.Bill) *domain.Bill {
	out := *src
	out.Items = make([]domain.BillItem, len(src.Items))
	copy(out.Items, src.Items)
	return &out
}

func cloneCommission(src *domain.Commission) *domain.Commission {
	out := *src
	if src.PaidAt != nil {
		at := *src.PaidAt
		out.PaidAt = &at
	}
	return &out
}
