package shared

import "sort"

// Procurement permissions.
const (
	PermRequestsCreate     = "requests.create"
	PermRequestsApproveHO  = "requests.approve_ho"
	PermRequestsApproveMD  = "requests.approve_md"
	PermPreparationsManage = "preparations.manage"
	PermGRNCreate          = "grns.create"
	PermGRNDecide          = "grns.decide"
	PermQCRecord           = "qc.record"
	PermReceiptsRecompute  = "receipts.recompute"
	PermStockManage        = "stock.manage"
	PermInvoicesManage     = "invoices.manage"
	PermPaymentsRecord     = "payments.record"
)

// ProcurementScopes lists every permission a role may be granted.
func ProcurementScopes() []string {
	return []string{
		PermRequestsCreate,
		PermRequestsApproveHO,
		PermRequestsApproveMD,
		PermPreparationsManage,
		PermGRNCreate,
		PermGRNDecide,
		PermQCRecord,
		PermReceiptsRecompute,
		PermStockManage,
		PermInvoicesManage,
		PermPaymentsRecord,
	}
}

var roleGrants = map[Role][]string{
	RoleStaff:          {PermRequestsCreate},
	RoleOperationsHead: {PermRequestsCreate, PermRequestsApproveHO, PermStockManage},
	RoleDirector:       {PermRequestsCreate, PermRequestsApproveMD},
	RolePurchasing:     {PermRequestsCreate, PermPreparationsManage, PermReceiptsRecompute},
	RoleStores:         {PermRequestsCreate, PermGRNCreate, PermStockManage, PermReceiptsRecompute},
	RoleQC:             {PermGRNDecide, PermQCRecord},
	RoleFinance:        {PermInvoicesManage, PermPaymentsRecord, PermReceiptsRecompute},
}

// PermissionsFor returns the sorted permissions granted to role.
func PermissionsFor(role Role) []string {
	out := append([]string(nil), roleGrants[role]...)
	sort.Strings(out)
	return out
}

// Can reports whether the actor's role grants perm.
func (a Actor) Can(perm string) bool {
	for _, granted := range roleGrants[a.Role] {
		if granted == perm {
			return true
		}
	}
	return false
}
