package authz

// Permission is a fine-grained action grant. The set is closed so that
// a missing grant is a compile-time visible omission, not a typo.
type Permission string

const (
	PermProcessTransaction Permission = "process_transaction"
	PermProcessRefund      Permission = "process_refund"
	PermManageInventory    Permission = "manage_inventory"
	PermDeleteProduct      Permission = "delete_product"
	PermCreateLayby        Permission = "create_layby"
	PermManageLaybys       Permission = "manage_laybys"
	PermCreateCustomer     Permission = "create_customer"
	PermManageCustomers    Permission = "manage_customers"
	PermCreateExpense      Permission = "create_expense"
	PermManageExpenses     Permission = "manage_expenses"
	PermViewReports        Permission = "view_reports"
	PermExportData         Permission = "export_data"
	PermManageStaff        Permission = "manage_staff"
	PermManageSettings     Permission = "manage_settings"
	PermManageStore        Permission = "manage_store"
)

// Page identifies a navigable application area.
type Page string

const (
	PagePOS       Page = "pos"
	PageDashboard Page = "dashboard"
	PageInventory Page = "inventory"
	PageCustomers Page = "customers"
	PageLaybys    Page = "laybys"
	PageExpenses  Page = "expenses"
	PageReports   Page = "reports"
	PageStaff     Page = "staff"
	PageSettings  Page = "settings"
)

// AllPermissions enumerates the closed permission set.
var AllPermissions = []Permission{
	PermProcessTransaction,
	PermProcessRefund,
	PermManageInventory,
	PermDeleteProduct,
	PermCreateLayby,
	PermManageLaybys,
	PermCreateCustomer,
	PermManageCustomers,
	PermCreateExpense,
	PermManageExpenses,
	PermViewReports,
	PermExportData,
	PermManageStaff,
	PermManageSettings,
	PermManageStore,
}

// AllPages enumerates the closed page set.
var AllPages = []Page{
	PagePOS,
	PageDashboard,
	PageInventory,
	PageCustomers,
	PageLaybys,
	PageExpenses,
	PageReports,
	PageStaff,
	PageSettings,
}

// FastPathPages render optimistically while role resolution is in flight.
// Blocking the register or the landing dashboard behind a lookup would stall
// every sale on a slow link.
var FastPathPages = map[Page]struct{}{
	PagePOS:       {},
	PageDashboard: {},
}

func ParsePermission(raw string) (Permission, bool) {
	for _, p := range AllPermissions {
		if string(p) == raw {
			return p, true
		}
	}
	return "", false
}

func ParsePage(raw string) (Page, bool) {
	for _, p := range AllPages {
		if string(p) == raw {
			return p, true
		}
	}
	return "", false
}
