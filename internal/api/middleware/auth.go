// auth.go — JWT middleware для аутентификации и авторизации Directory Sync.
// Извлекает claims из JWT, определяет тип субъекта (пользователь / Service Account),
// проверяет членство в группах администраторов синхронизации.
// Подпись проверяется по JWKS с фоновым обновлением ключей.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/directory-sync/internal/api/errors"
)

// ScopeLoginSync — scope Service Account для синхронизации при входе.
const ScopeLoginSync = "directory:login-sync"

// jwksClientTimeout — таймаут HTTP-клиента JWKS.
const jwksClientTimeout = 10 * time.Second

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// SubjectType — тип субъекта JWT.
type SubjectType string

const (
	// SubjectTypeUser — пользователь (OIDC).
	SubjectTypeUser SubjectType = "user"
	// SubjectTypeSA — Service Account (Client Credentials).
	SubjectTypeSA SubjectType = "service_account"
)

// AuthClaims — обработанные claims JWT.
type AuthClaims struct {
	// Subject — sub из JWT.
	Subject string
	// SubjectType — тип субъекта (user или service_account).
	SubjectType SubjectType
	// PreferredUsername — preferred_username из JWT.
	PreferredUsername string
	// Email — email из JWT.
	Email string

	// Groups — группы пользователя.
	Groups []string
	// IsAdmin — пользователь состоит в одной из групп администраторов синхронизации.
	IsAdmin bool

	// Scopes — scopes из claim "scope" (space-separated в JWT).
	Scopes []string
	// ClientID — client_id из JWT (для Service Account).
	ClientID string
}

// HasScope проверяет наличие указанного scope.
func (c *AuthClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// HasAnyScope проверяет наличие хотя бы одного из указанных scopes.
func (c *AuthClaims) HasAnyScope(scopes ...string) bool {
	for _, scope := range scopes {
		if c.HasScope(scope) {
			return true
		}
	}
	return false
}

// Initiator возвращает имя субъекта для журнала запусков.
func (c *AuthClaims) Initiator() string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.ClientID != "":
		return c.ClientID
	default:
		return c.Subject
	}
}

// tokenClaims — raw claims JWT.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Groups            []string `json:"groups,omitempty"`
	// Scope — scopes через пробел (для Service Account).
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks        keyfunc.Keyfunc
	logger      *slog.Logger
	adminGroups []string
	issuer      string
	jwtLeeway   time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS по URL.
// issuer — ожидаемый issuer ("" — не проверяется).
// adminGroups — группы, члены которых управляют синхронизацией.
// jwksRefreshInterval — интервал обновления ключей (DS_JWKS_REFRESH_INTERVAL).
// jwtLeeway — допустимое отклонение времени (DS_JWT_LEEWAY).
func NewJWTAuth(
	jwksURL string,
	issuer string,
	adminGroups []string,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, issuer, adminGroups, logger)
	auth.jwtLeeway = jwtLeeway
	return auth, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовой keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, adminGroups []string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:        kf,
		logger:      logger.With(slog.String("component", "jwt_auth")),
		adminGroups: adminGroups,
		issuer:      issuer,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, проверяет подпись (RS256) и помещает claims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, j.buildAuthClaims(rawClaims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildAuthClaims формирует AuthClaims из raw claims.
// Service Account определяется по наличию client_id и scope.
func (j *JWTAuth) buildAuthClaims(raw *tokenClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
		Email:             raw.Email,
	}

	if raw.ClientID != "" && raw.Scope != "" {
		claims.SubjectType = SubjectTypeSA
		claims.ClientID = raw.ClientID
		claims.Scopes = strings.Fields(raw.Scope)
		return claims
	}

	claims.SubjectType = SubjectTypeUser
	claims.Groups = raw.Groups
	claims.IsAdmin = inAnyGroup(raw.Groups, j.adminGroups)
	return claims
}

// inAnyGroup сравнивает группы без учёта регистра и ведущего "/" (формат Keycloak).
func inAnyGroup(groups, allowed []string) bool {
	for _, g := range groups {
		g = strings.TrimPrefix(g, "/")
		for _, a := range allowed {
			if strings.EqualFold(g, strings.TrimPrefix(a, "/")) {
				return true
			}
		}
	}
	return false
}

// --- RBAC middleware helpers ---

// RequireAdmin пропускает только пользователей из групп администраторов.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			if claims.SubjectType != SubjectTypeUser || !claims.IsAdmin {
				apierrors.Forbidden(w, "Недостаточно прав: требуется членство в группе администраторов синхронизации")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdminOrScope пропускает администраторов ИЛИ Service Accounts
// с одним из указанных scopes.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdminOrScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			switch claims.SubjectType {
			case SubjectTypeUser:
				if claims.IsAdmin {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, "Недостаточно прав: требуется членство в группе администраторов синхронизации")

			case SubjectTypeSA:
				if claims.HasAnyScope(scopes...) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется scope %s", strings.Join(scopes, " или ")))

			default:
				apierrors.Forbidden(w, "Неизвестный тип субъекта")
			}
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// InitiatorFromContext возвращает инициатора запуска ("api", если claims нет).
func InitiatorFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return "api"
	}
	return claims.Initiator()
}
