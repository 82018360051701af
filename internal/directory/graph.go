// graph.go — провайдер каталога с REST API в стиле Microsoft Graph.
// Пагинация по @odata.nextLink, авторизация bearer-токеном из TokenFunc.
// Операции: ListAccounts, GetProfile, GetGroupMemberships, GetManager, ListGroupMembers.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// accountFields — поля учётной записи, запрашиваемые через $select.
const accountFields = "id,displayName,givenName,surname,mail,userPrincipalName,department,accountEnabled"

// GraphProvider — провайдер каталога Graph API.
type GraphProvider struct {
	baseURL  string // Базовый URL API (без trailing slash), например https://graph.microsoft.com/v1.0
	token    TokenFunc
	pageSize int

	httpClient *http.Client
	logger     *slog.Logger
}

// NewGraphProvider создаёт провайдер Graph API.
// token — источник bearer-токена (nil — провайдер не настроен).
// httpClient — HTTP-клиент (может содержать TLS и трассировку).
func NewGraphProvider(baseURL string, token TokenFunc, pageSize int, httpClient *http.Client, logger *slog.Logger) *GraphProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	return &GraphProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		pageSize:   pageSize,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "graph_provider")),
	}
}

// Name возвращает имя провайдера.
func (p *GraphProvider) Name() string { return "graph" }

// Configured сообщает, есть ли источник токена.
func (p *GraphProvider) Configured() bool { return p.token != nil }

// --- HTTP helpers ---

// collectionResponse — страница коллекции Graph API.
type collectionResponse[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// directoryObject — минимальный объект каталога (член группы, группа, руководитель).
type directoryObject struct {
	ODataType string `json:"@odata.type"`
	ID        string `json:"id"`
}

// doAuthorized выполняет GET-запрос с авторизацией.
// target — путь относительно baseURL либо абсолютный URL (nextLink).
func (p *GraphProvider) doAuthorized(ctx context.Context, target string) (*http.Response, error) {
	if p.token == nil {
		return nil, ErrNotConfigured
	}

	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		reqURL = p.baseURL + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	return p.httpClient.Do(req)
}

// decodeResponse декодирует JSON ответ в target.
// Неуспешный статус превращается в *APIError.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("декодирование ответа каталога: %w", err)
	}
	return nil
}

// getJSON выполняет запрос и декодирует ответ.
func (p *GraphProvider) getJSON(ctx context.Context, target string, out any) error {
	resp, err := p.doAuthorized(ctx, target)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// listObjectIDs обходит коллекцию объектов по nextLink и собирает id.
// keep фильтрует объекты по @odata.type (nil — все).
func (p *GraphProvider) listObjectIDs(ctx context.Context, target string, keep func(directoryObject) bool) ([]string, error) {
	var ids []string
	for target != "" {
		var page collectionResponse[directoryObject]
		if err := p.getJSON(ctx, target, &page); err != nil {
			return nil, err
		}
		for _, obj := range page.Value {
			if keep == nil || keep(obj) {
				ids = append(ids, obj.ID)
			}
		}
		target = page.NextLink
	}
	return ids, nil
}

// --- Users API ---

// ListAccounts возвращает страницу пользователей.
// cursor — nextLink предыдущей страницы ("" — первая страница).
func (p *GraphProvider) ListAccounts(ctx context.Context, cursor string) (*AccountPage, error) {
	target := cursor
	if target == "" {
		q := url.Values{}
		q.Set("$select", accountFields)
		q.Set("$top", strconv.Itoa(p.pageSize))
		target = "/users?" + q.Encode()
	}

	var page collectionResponse[Account]
	if err := p.getJSON(ctx, target, &page); err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}

	return &AccountPage{Accounts: page.Value, NextCursor: page.NextLink}, nil
}

// GetProfile возвращает пользователя по id.
func (p *GraphProvider) GetProfile(ctx context.Context, externalID string) (*Account, error) {
	target := "/users/" + url.PathEscape(externalID) + "?$select=" + accountFields

	var account Account
	if err := p.getJSON(ctx, target, &account); err != nil {
		return nil, fmt.Errorf("GetProfile: %w", err)
	}
	return &account, nil
}

// GetGroupMemberships возвращает id групп пользователя, включая членство через вложенные группы.
// Согласовано с ListGroupMembers: оба запроса транзитивные.
func (p *GraphProvider) GetGroupMemberships(ctx context.Context, externalID string) ([]string, error) {
	target := "/users/" + url.PathEscape(externalID) + "/transitiveMemberOf?$select=id"

	ids, err := p.listObjectIDs(ctx, target, func(obj directoryObject) bool {
		return obj.ODataType == "" || obj.ODataType == "#microsoft.graph.group"
	})
	if err != nil {
		return nil, fmt.Errorf("GetGroupMemberships: %w", err)
	}
	return ids, nil
}

// GetManager возвращает id руководителя.
// 404 означает «руководитель не задан» и возвращается как *APIError (ErrNotFound).
func (p *GraphProvider) GetManager(ctx context.Context, externalID string) (string, error) {
	target := "/users/" + url.PathEscape(externalID) + "/manager?$select=id"

	var manager directoryObject
	if err := p.getJSON(ctx, target, &manager); err != nil {
		return "", fmt.Errorf("GetManager: %w", err)
	}
	if manager.ID == "" {
		return "", ErrNotFound
	}
	return manager.ID, nil
}

// --- Groups API ---

// ListGroupMembers возвращает id пользователей группы, включая вложенные группы.
func (p *GraphProvider) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	target := "/groups/" + url.PathEscape(groupID) + "/transitiveMembers?$select=id"

	ids, err := p.listObjectIDs(ctx, target, func(obj directoryObject) bool {
		return obj.ODataType == "" || obj.ODataType == "#microsoft.graph.user"
	})
	if err != nil {
		return nil, fmt.Errorf("ListGroupMembers: %w", err)
	}
	return ids, nil
}
