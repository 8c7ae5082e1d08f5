package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// Role sets used by route groups.
var (
	// CampaignManagers may create, configure, start and stop campaigns.
	CampaignManagers = []string{RoleOwner, RoleSupervisor}
	// CallHandlers may control individual calls.
	CallHandlers = []string{RoleOwner, RoleSupervisor, RoleAgent}
	// ReportViewers may read stats and reports.
	ReportViewers = []string{RoleOwner, RoleSupervisor, RoleAnalyst}
)
