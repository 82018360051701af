// google.go — провайдер каталога Google Workspace (Admin SDK Directory API).
// Учётные данные — JSON сервисного аккаунта с делегированием на администратора домена.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleProvider — провайдер каталога Google Workspace.
type GoogleProvider struct {
	svc      *admin.Service // nil — провайдер не настроен
	customer string
	pageSize int64
	logger   *slog.Logger
}

// NewGoogleProvider создаёт провайдер Google Workspace.
// credentialsJSON — ключ сервисного аккаунта; пустой — провайдер не настроен.
// subject — администратор домена для делегирования.
func NewGoogleProvider(ctx context.Context, credentialsJSON []byte, subject, customer string, pageSize int, logger *slog.Logger) (*GoogleProvider, error) {
	if len(credentialsJSON) == 0 {
		return NewGoogleProviderWithService(nil, customer, pageSize, logger), nil
	}

	params := google.CredentialsParams{
		Scopes: []string{
			admin.AdminDirectoryUserReadonlyScope,
			admin.AdminDirectoryGroupReadonlyScope,
			admin.AdminDirectoryGroupMemberReadonlyScope,
		},
		Subject: subject,
	}
	cred, err := google.CredentialsFromJSONWithParams(ctx, credentialsJSON, params)
	if err != nil {
		return nil, fmt.Errorf("разбор учётных данных Google: %w", err)
	}

	svc, err := admin.NewService(ctx, option.WithCredentials(cred))
	if err != nil {
		return nil, fmt.Errorf("создание клиента Google Directory API: %w", err)
	}

	return NewGoogleProviderWithService(svc, customer, pageSize, logger), nil
}

// NewGoogleProviderWithService создаёт провайдер поверх готового admin.Service.
func NewGoogleProviderWithService(svc *admin.Service, customer string, pageSize int, logger *slog.Logger) *GoogleProvider {
	if customer == "" {
		customer = "my_customer"
	}
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 500
	}

	return &GoogleProvider{
		svc:      svc,
		customer: customer,
		pageSize: int64(pageSize),
		logger:   logger.With(slog.String("component", "google_provider")),
	}
}

// Name возвращает имя провайдера.
func (p *GoogleProvider) Name() string { return "google" }

// Configured сообщает, создан ли клиент Directory API.
func (p *GoogleProvider) Configured() bool { return p.svc != nil }

// ListAccounts возвращает страницу пользователей домена.
func (p *GoogleProvider) ListAccounts(ctx context.Context, cursor string) (*AccountPage, error) {
	if p.svc == nil {
		return nil, ErrNotConfigured
	}

	req := p.svc.Users.List().
		Customer(p.customer).
		MaxResults(p.pageSize).
		Projection("full").
		OrderBy("email").
		Context(ctx)
	if cursor != "" {
		req = req.PageToken(cursor)
	}

	users, err := req.Do()
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", convertGoogleError(err))
	}

	page := &AccountPage{NextCursor: users.NextPageToken}
	for _, u := range users.Users {
		page.Accounts = append(page.Accounts, accountFromGoogle(u))
	}
	return page, nil
}

// GetProfile возвращает пользователя по id.
func (p *GoogleProvider) GetProfile(ctx context.Context, externalID string) (*Account, error) {
	u, err := p.getUser(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("GetProfile: %w", err)
	}
	account := accountFromGoogle(u)
	return &account, nil
}

// GetGroupMemberships возвращает id и email (в нижнем регистре) групп пользователя.
// Группы, содержащие найденные группы, добавляются обходом в ширину,
// как и в ListGroupMembers; каждая группа запрашивается один раз.
func (p *GoogleProvider) GetGroupMemberships(ctx context.Context, externalID string) ([]string, error) {
	if p.svc == nil {
		return nil, ErrNotConfigured
	}

	queue := []string{externalID}
	seen := make(map[string]struct{})
	var groups []string

	for pos := 0; pos < len(queue); pos++ {
		key := queue[pos]
		err := p.svc.Groups.List().UserKey(key).Pages(ctx, func(page *admin.Groups) error {
			for _, g := range page.Groups {
				if _, ok := seen[g.Id]; ok {
					continue
				}
				seen[g.Id] = struct{}{}
				queue = append(queue, g.Id)
				groups = append(groups, g.Id)
				if g.Email != "" {
					groups = append(groups, strings.ToLower(g.Email))
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("GetGroupMemberships %s: %w", key, convertGoogleError(err))
		}
	}

	return groups, nil
}

// GetManager возвращает id руководителя из relations[type=manager].
// Руководитель указан email-адресом и разрешается в id отдельным запросом.
func (p *GoogleProvider) GetManager(ctx context.Context, externalID string) (string, error) {
	u, err := p.getUser(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("GetManager: %w", err)
	}

	managerKey := relationValue(u.Relations, "manager")
	if managerKey == "" {
		return "", ErrNotFound
	}

	m, err := p.getUser(ctx, managerKey)
	if err != nil {
		return "", fmt.Errorf("GetManager: разрешение %s: %w", managerKey, err)
	}
	return m.Id, nil
}

// ListGroupMembers возвращает id пользователей группы.
// Вложенные группы раскрываются обходом в ширину, каждая группа запрашивается один раз.
func (p *GoogleProvider) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	if p.svc == nil {
		return nil, ErrNotConfigured
	}

	queue := []string{groupID}
	queued := map[string]struct{}{groupID: {}}
	seenUsers := make(map[string]struct{})
	var users []string

	for pos := 0; pos < len(queue); pos++ {
		key := queue[pos]
		err := p.svc.Members.List(key).Pages(ctx, func(page *admin.Members) error {
			for _, m := range page.Members {
				switch m.Type {
				case "GROUP":
					if _, ok := queued[m.Id]; !ok {
						queued[m.Id] = struct{}{}
						queue = append(queue, m.Id)
					}
				case "USER":
					if _, ok := seenUsers[m.Id]; !ok {
						seenUsers[m.Id] = struct{}{}
						users = append(users, m.Id)
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ListGroupMembers %s: %w", key, convertGoogleError(err))
		}
	}

	return users, nil
}

// getUser запрашивает пользователя по id или email.
func (p *GoogleProvider) getUser(ctx context.Context, userKey string) (*admin.User, error) {
	if p.svc == nil {
		return nil, ErrNotConfigured
	}
	u, err := p.svc.Users.Get(userKey).Projection("full").Context(ctx).Do()
	if err != nil {
		return nil, convertGoogleError(err)
	}
	return u, nil
}

// convertGoogleError приводит googleapi.Error к *APIError для единой классификации.
func convertGoogleError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &APIError{StatusCode: gErr.Code, Body: gErr.Message}
	}
	return err
}

// accountFromGoogle конвертирует пользователя Google в Account.
func accountFromGoogle(u *admin.User) Account {
	a := Account{
		ID:                u.Id,
		Mail:              u.PrimaryEmail,
		UserPrincipalName: u.PrimaryEmail,
		Enabled:           !u.Suspended && !u.Archived,
		Department:        primaryDepartment(u.Organizations),
	}
	if u.Name != nil {
		a.GivenName = u.Name.GivenName
		a.Surname = u.Name.FamilyName
		a.DisplayName = u.Name.FullName
		if a.DisplayName == "" {
			a.DisplayName = strings.TrimSpace(u.Name.GivenName + " " + u.Name.FamilyName)
		}
	}
	return a
}

// primaryDepartment извлекает подразделение из organizations.
// Предпочитается организация с primary=true, иначе первая с непустым department.
func primaryDepartment(organizations any) string {
	var fallback string
	for _, org := range objectList(organizations) {
		dept, _ := org["department"].(string)
		if dept == "" {
			continue
		}
		if primary, _ := org["primary"].(bool); primary {
			return dept
		}
		if fallback == "" {
			fallback = dept
		}
	}
	return fallback
}

// relationValue возвращает value первой relation указанного типа.
func relationValue(relations any, relType string) string {
	for _, rel := range objectList(relations) {
		if t, _ := rel["type"].(string); t == relType {
			v, _ := rel["value"].(string)
			return v
		}
	}
	return ""
}

// objectList приводит нетипизированный JSON-массив к срезу объектов.
func objectList(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			result = append(result, obj)
		}
	}
	return result
}
