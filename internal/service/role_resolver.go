package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/rbac"
)

// RoleResolver вычисляет роль аккаунта по правилам rbac.DefaultRules.
type RoleResolver struct {
	dir         *directory.Client
	adminGroup  string
	issuerGroup string
	logger      *slog.Logger
}

// NewRoleResolver создаёт RoleResolver.
// Пустой идентификатор группы означает, что правило группы не срабатывает.
func NewRoleResolver(dir *directory.Client, adminGroup, issuerGroup string, logger *slog.Logger) *RoleResolver {
	return &RoleResolver{
		dir:         dir,
		adminGroup:  adminGroup,
		issuerGroup: issuerGroup,
		logger:      logger.With(slog.String("component", "role_resolver")),
	}
}

// RoleGroups возвращает идентификаторы групп, определяющих роль (непустые).
func (r *RoleResolver) RoleGroups() []string {
	var groups []string
	for _, g := range []string{r.adminGroup, r.issuerGroup} {
		if g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// Resolve определяет роль, запрашивая группы учётной записи в каталоге.
// Для локальных аккаунтов каталог не опрашивается.
// Ошибка запроса групп не прерывает обработку: считается, что групп нет.
func (r *RoleResolver) Resolve(ctx context.Context, externalID string, existing *model.Account, hasDirectReports bool) string {
	if existing != nil && !existing.IsLinked() {
		return existing.Role
	}

	var groups []string
	if len(r.RoleGroups()) > 0 {
		var err error
		groups, err = r.dir.GetGroupMemberships(ctx, externalID)
		if err != nil {
			r.logger.Warn("Не удалось получить группы, роль определяется без них",
				slog.String("external_id", externalID),
				slog.String("error", err.Error()),
			)
			groups = nil
		}
	}

	return r.ResolveWithGroups(groups, existing, hasDirectReports)
}

// ResolveWithGroups определяет роль по уже известному списку групп.
func (r *RoleResolver) ResolveWithGroups(groups []string, existing *model.Account, hasDirectReports bool) string {
	inAdmin, inIssuer := rbac.GroupFacts(groups, r.adminGroup, r.issuerGroup)
	return r.ResolveFacts(existing, inAdmin, inIssuer, hasDirectReports)
}

// ResolveFacts определяет роль по готовым признакам членства.
func (r *RoleResolver) ResolveFacts(existing *model.Account, inAdmin, inIssuer, hasDirectReports bool) string {
	facts := rbac.Facts{
		InAdminGroup:     inAdmin,
		InIssuerGroup:    inIssuer,
		HasDirectReports: hasDirectReports,
	}
	if existing != nil {
		facts.Exists = true
		facts.LocalOnly = !existing.IsLinked()
		facts.CurrentRole = existing.Role
		facts.RoleManuallySet = existing.RoleManuallySet
	}

	role, rule := rbac.ResolveWith(rbac.DefaultRules, facts)
	r.logger.Debug("Роль определена",
		slog.String("role", role),
		slog.String("rule", rule),
	)
	return role
}
