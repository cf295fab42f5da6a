package domain

import "fmt"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
)

func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleAdmin, RoleManager, RoleCashier:
		return Role(raw), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

type Capability string

const (
	CapManageBranches     Capability = "manage_branches"
	CapManageEmployees    Capability = "manage_employees"
	CapManageCatalog      Capability = "manage_catalog"
	CapManageInventory    Capability = "manage_inventory"
	CapSell               Capability = "sell"
	CapProcessReturns     Capability = "process_returns"
	CapViewAllBills       Capability = "view_all_bills"
	CapViewBranchBills    Capability = "view_branch_bills"
	CapViewAllCommissions Capability = "view_all_commissions"
	CapPayoutCommission   Capability = "payout_commission"
	CapViewReports        Capability = "view_reports"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapManageBranches:     true,
		CapManageEmployees:    true,
		CapManageCatalog:      true,
		CapManageInventory:    true,
		CapSell:               true,
		CapProcessReturns:     true,
		CapViewAllBills:       true,
		CapViewBranchBills:    true,
		CapViewAllCommissions: true,
		CapPayoutCommission:   true,
		CapViewReports:        true,
	},
	RoleManager: {
		CapManageCatalog:   true,
		CapSell:            true,
		CapProcessReturns:  true,
		CapViewBranchBills: true,
		CapViewReports:     true,
	},
	RoleCashier: {
		CapSell:           true,
		CapProcessReturns: true,
	},
}

func (r Role) Can(cap Capability) bool {
	return roleCapabilities[r][cap]
}
