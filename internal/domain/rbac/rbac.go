// Пакет rbac — определение роли аккаунта при синхронизации с каталогом.
// Правила проверяются строго по порядку, побеждает первое сработавшее:
//  1. локальный аккаунт (без external id) — роль не меняется;
//  2. группа администраторов → ADMIN, группа выпускающих → ISSUER;
//  3. роль назначена вручную — роль не меняется;
//  4. есть подчинённые → MANAGER;
//  5. иначе EMPLOYEE.
package rbac

// Роли аккаунтов.
const (
	RoleAdmin    = "ADMIN"
	RoleIssuer   = "ISSUER"
	RoleManager  = "MANAGER"
	RoleEmployee = "EMPLOYEE"
)

// Facts — входные данные для вычисления роли.
type Facts struct {
	// Exists — аккаунт уже есть локально
	Exists bool
	// LocalOnly — существующий аккаунт без external id
	LocalOnly bool
	// CurrentRole — текущая роль существующего аккаунта
	CurrentRole string
	// RoleManuallySet — роль назначена администратором
	RoleManuallySet bool
	// InAdminGroup — состоит в группе администраторов
	InAdminGroup bool
	// InIssuerGroup — состоит в группе выпускающих
	InIssuerGroup bool
	// HasDirectReports — есть хотя бы один подчинённый
	HasDirectReports bool
}

// Rule — одно правило: если Match срабатывает, возвращается роль.
type Rule struct {
	Name  string
	Match func(f Facts) (string, bool)
}

// DefaultRules — правила в порядке приоритета.
var DefaultRules = []Rule{
	{Name: "local_only", Match: func(f Facts) (string, bool) {
		return f.CurrentRole, f.Exists && f.LocalOnly
	}},
	{Name: "admin_group", Match: func(f Facts) (string, bool) {
		return RoleAdmin, f.InAdminGroup
	}},
	{Name: "issuer_group", Match: func(f Facts) (string, bool) {
		return RoleIssuer, f.InIssuerGroup
	}},
	{Name: "manual", Match: func(f Facts) (string, bool) {
		return f.CurrentRole, f.Exists && f.RoleManuallySet
	}},
	{Name: "direct_reports", Match: func(f Facts) (string, bool) {
		return RoleManager, f.HasDirectReports
	}},
	{Name: "default", Match: func(Facts) (string, bool) {
		return RoleEmployee, true
	}},
}

// Resolve вычисляет роль по DefaultRules.
func Resolve(f Facts) string {
	role, _ := ResolveWith(DefaultRules, f)
	return role
}

// ResolveWith вычисляет роль по переданным правилам.
// Возвращает роль и имя сработавшего правила.
// Если ни одно правило не сработало — RoleEmployee и пустое имя.
func ResolveWith(rules []Rule, f Facts) (role, rule string) {
	for _, r := range rules {
		if role, ok := r.Match(f); ok {
			return role, r.Name
		}
	}
	return RoleEmployee, ""
}

// GroupFacts проверяет принадлежность к ролевым группам.
// Пустой идентификатор группы никогда не совпадает.
func GroupFacts(groups []string, adminGroup, issuerGroup string) (inAdmin, inIssuer bool) {
	set := toSet(groups)
	return adminGroup != "" && set[adminGroup], issuerGroup != "" && set[issuerGroup]
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleIssuer, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
