package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stitchpos/backend/internal/domain"
	"stitchpos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, address, contact_number, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, branch.ID, branch.Name, branch.Address, branch.ContactNumber, branch.Active, branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := branch
	return &created, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, contact_number, active, created_at
		FROM branches
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.ContactNumber, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return branches, nil
}

func (s *Store) GetBranchByID(ctx context.Context, branchID string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, contact_number, active, created_at
		FROM branches
		WHERE id = $1
	`, branchID).Scan(&b.ID, &b.Name, &b.Address, &b.ContactNumber, &b.Active, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	if employee.Username == "" || employee.FullName == "" || employee.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if _, err := s.GetBranchByID(ctx, employee.BranchID); err != nil {
		return nil, err
	}
	if employee.ID == "" {
		employee.ID = uuid.NewString()
	}
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = time.Now().UTC()
	}
	employee.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, full_name, username, password_hash, role, branch_id, commission_rate, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, employee.ID, employee.FullName, employee.Username, employee.PasswordHash, string(employee.Role),
		employee.BranchID, employee.CommissionRate, employee.Active, employee.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := employee
	return &created, nil
}

const employeeColumns = `id, full_name, username, password_hash, role, branch_id, commission_rate, active, created_at`

func scanEmployee(row interface{ Scan(dest ...any) error }) (*domain.Employee, error) {
	var e domain.Employee
	err := row.Scan(&e.ID, &e.FullName, &e.Username, &e.PasswordHash, &e.Role,
		&e.BranchID, &e.CommissionRate, &e.Active, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]domain.Employee, 0, 16)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return employees, nil
}

func (s *Store) GetEmployeeByID(ctx context.Context, employeeID string) (*domain.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		WHERE id = $1
	`, employeeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) GetEmployeeByUsername(ctx context.Context, username string) (*domain.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		WHERE username = $1
	`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) FindOrCreateCustomer(ctx context.Context, phoneNumber string, name string) (*domain.Customer, error) {
	if phoneNumber == "" {
		return nil, store.ErrInvalidInput
	}
	existing, err := s.GetCustomerByPhone(ctx, phoneNumber)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	customer := domain.Customer{
		ID:          uuid.NewString(),
		PhoneNumber: phoneNumber,
		Name:        name,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (id, phone_number, name, loyalty_points, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.PhoneNumber, customer.Name, customer.LoyaltyPoints, customer.CreatedAt)
	if err != nil {
		// A concurrent request can win the insert race; use its row.
		if isUniqueViolation(err) {
			return s.GetCustomerByPhone(ctx, phoneNumber)
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByPhone(ctx context.Context, phoneNumber string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone_number, name, loyalty_points, created_at
		FROM customers
		WHERE phone_number = $1
	`, phoneNumber).Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.LoyaltyPoints, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone_number, name, loyalty_points, created_at
		FROM customers
		ORDER BY phone_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.LoyaltyPoints, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func validateProduct(product domain.Product) error {
	if product.Name == "" || len(product.Variants) == 0 {
		return store.ErrInvalidInput
	}
	seen := map[string]bool{}
	for _, v := range product.Variants {
		if v.SKU == "" || !v.Price.IsPositive() || seen[v.SKU] {
			return store.ErrInvalidInput
		}
		seen[v.SKU] = true
		for _, qty := range v.Stock {
			if qty < 0 {
				return store.ErrInvalidInput
			}
		}
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO products (id, name, description, category, brand, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, product.ID, product.Name, product.Description, product.Category, product.Brand, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	if err := insertVariants(ctx, pgTx, product.ID, product.Variants); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func insertVariants(ctx context.Context, pgTx *sql.Tx, productID string, variants []domain.Variant) error {
	for _, v := range variants {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO product_variants (sku, product_id, barcode, color, size, price)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, v.SKU, productID, nullIfEmpty(v.Barcode), v.Color, v.Size, v.Price)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		for branchID, qty := range v.Stock {
			_, err := pgTx.ExecContext(ctx, `
				INSERT INTO variant_stocks (sku, branch_id, qty)
				VALUES ($1,$2,$3)
			`, v.SKU, branchID, qty)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, productID string, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var createdAt time.Time
	err = pgTx.QueryRowContext(ctx, `
		SELECT created_at FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, category = $4, brand = $5
		WHERE id = $1
	`, productID, product.Name, product.Description, product.Category, product.Brand)
	if err != nil {
		return nil, err
	}

	// Variants are replaced wholesale; stock rows hang off the variants and
	// go with them.
	_, err = pgTx.ExecContext(ctx, `
		DELETE FROM variant_stocks
		WHERE sku IN (SELECT sku FROM product_variants WHERE product_id = $1)
	`, productID)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `DELETE FROM product_variants WHERE product_id = $1`, productID)
	if err != nil {
		return nil, err
	}
	if err := insertVariants(ctx, pgTx, productID, product.Variants); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	product.ID = productID
	product.CreatedAt = createdAt
	updated := product
	return &updated, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// variantsByProduct loads variants plus their per-branch stock for either one
// product or the whole catalog when productID is empty.
func variantsByProduct(ctx context.Context, q queryer, productID string) (map[string][]domain.Variant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, sku, COALESCE(barcode, ''), color, size, price
		FROM product_variants
		WHERE $1 = '' OR product_id = $1
		ORDER BY sku
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byProduct := map[string][]domain.Variant{}
	stockBySKU := map[string]map[string]int{}
	for rows.Next() {
		var owner string
		var v domain.Variant
		if err := rows.Scan(&owner, &v.SKU, &v.Barcode, &v.Color, &v.Size, &v.Price); err != nil {
			return nil, err
		}
		v.Stock = map[string]int{}
		stockBySKU[v.SKU] = v.Stock
		byProduct[owner] = append(byProduct[owner], v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stockRows, err := q.QueryContext(ctx, `
		SELECT vs.sku, vs.branch_id, vs.qty
		FROM variant_stocks vs
		JOIN product_variants pv ON pv.sku = vs.sku
		WHERE $1 = '' OR pv.product_id = $1
	`, productID)
	if err != nil {
		return nil, err
	}
	defer stockRows.Close()

	for stockRows.Next() {
		var sku, branchID string
		var qty int
		if err := stockRows.Scan(&sku, &branchID, &qty); err != nil {
			return nil, err
		}
		if stock, exists := stockBySKU[sku]; exists {
			stock[branchID] = qty
		}
	}
	if err := stockRows.Err(); err != nil {
		return nil, err
	}

	return byProduct, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, category, brand, created_at
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Brand, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	variants, err := variantsByProduct(ctx, s.db, "")
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = variants[products[i].ID]
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, brand, created_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Brand, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	variants, err := variantsByProduct(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	p.Variants = variants[productID]

	return &p, nil
}

func (s *Store) GetVariantBySKU(ctx context.Context, sku string) (*domain.Product, *domain.Variant, error) {
	var productID string
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id FROM product_variants WHERE sku = $1
	`, sku).Scan(&productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	return s.productWithVariant(ctx, productID, sku)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, *domain.Variant, error) {
	var productID, sku string
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, sku FROM product_variants WHERE barcode = $1
	`, barcode).Scan(&productID, &sku)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	return s.productWithVariant(ctx, productID, sku)
}

func (s *Store) productWithVariant(ctx context.Context, productID string, sku string) (*domain.Product, *domain.Variant, error) {
	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	for i := range product.Variants {
		if product.Variants[i].SKU == sku {
			return product, &product.Variants[i], nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (s *Store) StockIn(ctx context.Context, sku string, branchID string, qty int) (*domain.StockInResponse, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := rowExists(ctx, pgTx, `SELECT 1 FROM branches WHERE id = $1`, branchID); err != nil {
		return nil, err
	}
	if err := rowExists(ctx, pgTx, `SELECT 1 FROM product_variants WHERE sku = $1`, sku); err != nil {
		return nil, err
	}

	var branchQty int
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO variant_stocks (sku, branch_id, qty)
		VALUES ($1,$2,$3)
		ON CONFLICT (sku, branch_id) DO UPDATE SET qty = variant_stocks.qty + EXCLUDED.qty
		RETURNING qty
	`, sku, branchID, qty).Scan(&branchQty)
	if err != nil {
		return nil, err
	}

	var total int
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty), 0) FROM variant_stocks WHERE sku = $1
	`, sku).Scan(&total)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.StockInResponse{
		SKU:        sku,
		BranchID:   branchID,
		BranchQty:  branchQty,
		TotalStock: total,
	}, nil
}

func (s *Store) TransferStock(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	if transfer.Quantity < 1 || transfer.FromBranchID == transfer.ToBranchID {
		return nil, store.ErrInvalidInput
	}
	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := rowExists(ctx, pgTx, `SELECT 1 FROM branches WHERE id = $1`, transfer.FromBranchID); err != nil {
		return nil, err
	}
	if err := rowExists(ctx, pgTx, `SELECT 1 FROM branches WHERE id = $1`, transfer.ToBranchID); err != nil {
		return nil, err
	}
	if err := rowExists(ctx, pgTx, `SELECT 1 FROM product_variants WHERE sku = $1`, transfer.SKU); err != nil {
		return nil, err
	}

	if err := decrementStock(ctx, pgTx, transfer.SKU, transfer.FromBranchID, transfer.Quantity); err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO variant_stocks (sku, branch_id, qty)
		VALUES ($1,$2,$3)
		ON CONFLICT (sku, branch_id) DO UPDATE SET qty = variant_stocks.qty + EXCLUDED.qty
	`, transfer.SKU, transfer.ToBranchID, transfer.Quantity)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_transfers (id, sku, from_branch_id, to_branch_id, qty, transferred_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, transfer.ID, transfer.SKU, transfer.FromBranchID, transfer.ToBranchID,
		transfer.Quantity, transfer.TransferredBy, transfer.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := transfer
	return &created, nil
}

func (s *Store) ListStockTransfers(ctx context.Context, sku string) ([]domain.StockTransfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, from_branch_id, to_branch_id, qty, transferred_by, created_at
		FROM stock_transfers
		WHERE $1 = '' OR sku = $1
		ORDER BY created_at DESC, id DESC
	`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.StockTransfer, 0, 32)
	for rows.Next() {
		var t domain.StockTransfer
		if err := rows.Scan(&t.ID, &t.SKU, &t.FromBranchID, &t.ToBranchID, &t.Quantity, &t.TransferredBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return transfers, nil
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]domain.LowStockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pv.product_id, p.name, pv.sku, pv.color, pv.size
		FROM product_variants pv
		JOIN products p ON p.id = pv.product_id
		WHERE (SELECT COALESCE(SUM(qty), 0) FROM variant_stocks vs WHERE vs.sku = pv.sku) < $1
		ORDER BY (SELECT COALESCE(SUM(qty), 0) FROM variant_stocks vs WHERE vs.sku = pv.sku), pv.sku
	`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LowStockItem, 0)
	for rows.Next() {
		var item domain.LowStockItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.SKU, &item.Color, &item.Size); err != nil {
			return nil, err
		}
		item.Stock = map[string]int{}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		stockRows, err := s.db.QueryContext(ctx, `
			SELECT branch_id, qty FROM variant_stocks WHERE sku = $1
		`, items[i].SKU)
		if err != nil {
			return nil, err
		}
		for stockRows.Next() {
			var branchID string
			var qty int
			if err := stockRows.Scan(&branchID, &qty); err != nil {
				stockRows.Close()
				return nil, err
			}
			items[i].Stock[branchID] = qty
			items[i].TotalStock += qty
		}
		if err := stockRows.Err(); err != nil {
			stockRows.Close()
			return nil, err
		}
		stockRows.Close()
	}

	return items, nil
}

func (s *Store) NextBillSeq(ctx context.Context, branchID string) (int64, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM branches WHERE id = $1`, branchID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO branch_bill_counters (branch_id, seq)
		VALUES ($1, 1)
		ON CONFLICT (branch_id) DO UPDATE SET seq = branch_bill_counters.seq + 1
		RETURNING seq
	`, branchID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill, commission *domain.Commission) (*domain.Bill, error) {
	if len(bill.Items) == 0 || bill.ID == "" || bill.BillNumber == "" {
		return nil, store.ErrInvalidInput
	}
	for _, item := range bill.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Any failed line rolls the whole transaction back, so earlier
	// decrements never stick.
	for _, item := range bill.Items {
		if err := decrementStock(ctx, pgTx, item.SKU, bill.BranchID, item.Quantity); err != nil {
			return nil, err
		}
	}

	if err := insertBill(ctx, pgTx, bill); err != nil {
		return nil, err
	}
	if commission != nil {
		if err := insertCommission(ctx, pgTx, *commission); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := bill
	return &created, nil
}

func (s *Store) CreateReturnBill(ctx context.Context, reversal domain.Bill, commission *domain.Commission) (*domain.Bill, domain.BillStatus, error) {
	if len(reversal.Items) == 0 {
		return nil, "", store.ErrInvalidInput
	}
	for _, item := range reversal.Items {
		if item.Quantity < 1 {
			return nil, "", store.ErrInvalidInput
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Lock the original so concurrent returns against the same bill
	// serialize on its row.
	var originalStatus domain.BillStatus
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM bills WHERE id = $1 FOR UPDATE
	`, reversal.RelatedBillID).Scan(&originalStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", store.ErrNotFound
		}
		return nil, "", err
	}
	if originalStatus == domain.BillStatusReturned {
		return nil, "", store.ErrAlreadyReturned
	}

	originalQty, err := quantityBySKU(ctx, pgTx, `
		SELECT sku, SUM(quantity) FROM bill_items WHERE bill_id = $1 GROUP BY sku
	`, reversal.RelatedBillID)
	if err != nil {
		return nil, "", err
	}
	returnedQty, err := quantityBySKU(ctx, pgTx, `
		SELECT bi.sku, SUM(bi.quantity)
		FROM bills b
		JOIN bill_items bi ON bi.bill_id = b.id
		WHERE b.related_bill_id = $1
		GROUP BY bi.sku
	`, reversal.RelatedBillID)
	if err != nil {
		return nil, "", err
	}

	for _, item := range reversal.Items {
		sold, inBill := originalQty[item.SKU]
		if !inBill {
			return nil, "", store.ErrItemNotInBill
		}
		if returnedQty[item.SKU]+item.Quantity > sold {
			return nil, "", store.ErrExcessiveReturn
		}
	}

	for _, item := range reversal.Items {
		err := rowExists(ctx, pgTx, `SELECT 1 FROM product_variants WHERE sku = $1`, item.SKU)
		if errors.Is(err, store.ErrNotFound) {
			// Variants can be removed from the catalog after a sale; the
			// refund still goes through, there is just no shelf to restock.
			continue
		}
		if err != nil {
			return nil, "", err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO variant_stocks (sku, branch_id, qty)
			VALUES ($1,$2,$3)
			ON CONFLICT (sku, branch_id) DO UPDATE SET qty = variant_stocks.qty + EXCLUDED.qty
		`, item.SKU, reversal.BranchID, item.Quantity)
		if err != nil {
			return nil, "", err
		}
	}

	if err := insertBill(ctx, pgTx, reversal); err != nil {
		return nil, "", err
	}
	if commission != nil {
		if err := insertCommission(ctx, pgTx, *commission); err != nil {
			return nil, "", err
		}
	}

	cumulative := make(map[string]int, len(returnedQty))
	for sku, qty := range returnedQty {
		cumulative[sku] = qty
	}
	for _, item := range reversal.Items {
		cumulative[item.SKU] += item.Quantity
	}
	newStatus := domain.BillStatusReturned
	for sku, sold := range originalQty {
		if cumulative[sku] < sold {
			newStatus = domain.BillStatusPartialReturn
			break
		}
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE bills SET status = $2 WHERE id = $1
	`, reversal.RelatedBillID, string(newStatus))
	if err != nil {
		return nil, "", err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, "", err
	}

	created := reversal
	return &created, newStatus, nil
}

// decrementStock subtracts qty from one branch shelf only when enough stock
// is on hand, and reports which precondition failed otherwise.
func decrementStock(ctx context.Context, pgTx *sql.Tx, sku string, branchID string, qty int) error {
	res, err := pgTx.ExecContext(ctx, `
		UPDATE variant_stocks
		SET qty = qty - $3
		WHERE sku = $1 AND branch_id = $2 AND qty >= $3
	`, sku, branchID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if err := rowExists(ctx, pgTx, `SELECT 1 FROM product_variants WHERE sku = $1`, sku); err != nil {
			return err
		}
		return store.ErrInsufficientStock
	}
	return nil
}

func insertBill(ctx context.Context, pgTx *sql.Tx, bill domain.Bill) error {
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO bills (
			id, bill_number, branch_id, employee_id, customer_id,
			subtotal, discount_amount, total_amount, payment_method,
			status, related_bill_id, return_reason, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, bill.ID, bill.BillNumber, bill.BranchID, bill.EmployeeID, nullIfEmpty(bill.CustomerID),
		bill.Subtotal, bill.DiscountAmount, bill.TotalAmount, bill.PaymentMethod,
		string(bill.Status), nullIfEmpty(bill.RelatedBillID), nullIfEmpty(bill.ReturnReason), bill.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}

	for _, item := range bill.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, product_id, sku, product_name, color, size, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, bill.ID, item.ProductID, item.SKU, item.ProductName, item.Color, item.Size,
			item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertCommission(ctx context.Context, pgTx *sql.Tx, c domain.Commission) error {
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO commissions (id, employee_id, bill_id, sale_amount, commission_rate, commission_amount, status, paid_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.EmployeeID, c.BillID, c.SaleAmount, c.CommissionRate, c.CommissionAmount,
		string(c.Status), nullTime(c.PaidAt), c.CreatedAt)
	return err
}

const billColumns = `id, bill_number, branch_id, employee_id, COALESCE(customer_id, ''),
		subtotal, discount_amount, total_amount, payment_method, status,
		COALESCE(related_bill_id, ''), COALESCE(return_reason, ''), created_at`

func scanBill(row interface{ Scan(dest ...any) error }) (*domain.Bill, error) {
	var b domain.Bill
	err := row.Scan(&b.ID, &b.BillNumber, &b.BranchID, &b.EmployeeID, &b.CustomerID,
		&b.Subtotal, &b.DiscountAmount, &b.TotalAmount, &b.PaymentMethod, &b.Status,
		&b.RelatedBillID, &b.ReturnReason, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) billItems(ctx context.Context, billID string) ([]domain.BillItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, sku, product_name, color, size, quantity, unit_price, line_total
		FROM bill_items
		WHERE bill_id = $1
		ORDER BY sku
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.BillItem, 0, 8)
	for rows.Next() {
		var item domain.BillItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.ProductName, &item.Color,
			&item.Size, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetBillByID(ctx context.Context, billID string) (*domain.Bill, error) {
	bill, err := scanBill(s.db.QueryRowContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE id = $1
	`, billID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	bill.Items, err = s.billItems(ctx, billID)
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *Store) ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE 1 = 1`
	args := make([]any, 0, 5)
	appendFilter := func(clause string, value any) {
		args = append(args, value)
		query += " AND " + clause + placeholder(len(args))
	}
	if filter.BranchID != "" {
		appendFilter("branch_id = ", filter.BranchID)
	}
	if filter.EmployeeID != "" {
		appendFilter("employee_id = ", filter.EmployeeID)
	}
	if filter.CustomerID != "" {
		appendFilter("customer_id = ", filter.CustomerID)
	}
	if filter.From != nil {
		appendFilter("created_at >= ", *filter.From)
	}
	if filter.To != nil {
		appendFilter("created_at <= ", *filter.To)
	}
	query += `
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 64)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		bills[i].Items, err = s.billItems(ctx, bills[i].ID)
		if err != nil {
			return nil, err
		}
	}

	return bills, nil
}

func (s *Store) GetReturnedQtyByBill(ctx context.Context, billID string) (map[string]int, error) {
	return quantityBySKU(ctx, s.db, `
		SELECT bi.sku, SUM(bi.quantity)
		FROM bills b
		JOIN bill_items bi ON bi.bill_id = b.id
		WHERE b.related_bill_id = $1
		GROUP BY bi.sku
	`, billID)
}

const commissionColumns = `id, employee_id, bill_id, sale_amount, commission_rate, commission_amount, status, paid_at, created_at`

func scanCommission(row interface{ Scan(dest ...any) error }) (*domain.Commission, error) {
	var c domain.Commission
	var paidAt sql.NullTime
	err := row.Scan(&c.ID, &c.EmployeeID, &c.BillID, &c.SaleAmount, &c.CommissionRate,
		&c.CommissionAmount, &c.Status, &paidAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		at := paidAt.Time
		c.PaidAt = &at
	}
	return &c, nil
}

func (s *Store) GetCommissionByBillID(ctx context.Context, billID string) (*domain.Commission, error) {
	c, err := scanCommission(s.db.QueryRowContext(ctx, `
		SELECT `+commissionColumns+`
		FROM commissions
		WHERE bill_id = $1
	`, billID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *Store) ListCommissions(ctx context.Context, employeeID string) ([]domain.Commission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commissionColumns+`
		FROM commissions
		WHERE $1 = '' OR employee_id = $1
		ORDER BY created_at DESC, id DESC
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commissions := make([]domain.Commission, 0, 32)
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		commissions = append(commissions, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return commissions, nil
}

func (s *Store) PayoutCommissions(ctx context.Context, commissionIDs []string, paidAt time.Time) (int, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Re-payout is allowed and refreshes paid_at.
	for _, id := range commissionIDs {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE commissions SET status = $2, paid_at = $3 WHERE id = $1
		`, id, string(domain.CommissionStatusPaid), paidAt)
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			return 0, store.ErrNotFound
		}
	}

	if err := pgTx.Commit(); err != nil {
		return 0, err
	}
	return len(commissionIDs), nil
}

func quantityBySKU(ctx context.Context, q queryer, query string, billID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quantities := map[string]int{}
	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, err
		}
		quantities[sku] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return quantities, nil
}

func rowExists(ctx context.Context, pgTx *sql.Tx, query string, arg any) error {
	var one int
	err := pgTx.QueryRowContext(ctx, query, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
