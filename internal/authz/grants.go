package authz

// Grants is the static permission and page set for one role. Pure data:
// no I/O, no hidden state, defined once and shared.
type Grants struct {
	Permissions map[Permission]struct{}
	Pages       map[Page]struct{}
}

// Has reports whether the permission is granted.
func (g Grants) Has(p Permission) bool {
	_, ok := g.Permissions[p]
	return ok
}

// Allows reports whether the page is accessible.
func (g Grants) Allows(p Page) bool {
	_, ok := g.Pages[p]
	return ok
}

var cashierGrants = Grants{
	Permissions: permSet(
		PermProcessTransaction,
		PermCreateLayby,
		PermCreateCustomer,
		PermCreateExpense,
	),
	Pages: pageSet(
		PagePOS,
		PageDashboard,
		PageCustomers,
		PageLaybys,
	),
}

var managerGrants = Grants{
	Permissions: permSet(
		PermProcessTransaction,
		PermProcessRefund,
		PermManageInventory,
		PermCreateLayby,
		PermManageLaybys,
		PermCreateCustomer,
		PermManageCustomers,
		PermCreateExpense,
		PermManageExpenses,
		PermViewReports,
		PermExportData,
	),
	Pages: pageSet(
		PagePOS,
		PageDashboard,
		PageInventory,
		PageCustomers,
		PageLaybys,
		PageExpenses,
		PageReports,
	),
}

var ownerGrants = Grants{
	Permissions: permSet(
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
	),
	Pages: pageSet(AllPages...),
}

// GrantsFor returns the static grant set for the role. Unknown roles get
// empty grants, never a fallback set.
func GrantsFor(r Role) Grants {
	switch r {
	case RoleOwner:
		return ownerGrants
	case RoleManager:
		return managerGrants
	case RoleCashier:
		return cashierGrants
	}
	return Grants{Permissions: map[Permission]struct{}{}, Pages: map[Page]struct{}{}}
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func pageSet(pages ...Page) map[Page]struct{} {
	set := make(map[Page]struct{}, len(pages))
	for _, p := range pages {
		set[p] = struct{}{}
	}
	return set
}
