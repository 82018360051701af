// validation.go — проверка входящих запросов по OpenAPI-контракту (kin-openapi).
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/goartstore/directory-sync/internal/api/errors"
)

// RequestValidator проверяет параметры и тело запроса по OpenAPI-документу.
type RequestValidator struct {
	router routers.Router
	logger *slog.Logger
}

// NewRequestValidator создаёт валидатор для загруженного документа.
func NewRequestValidator(doc *openapi3.T, logger *slog.Logger) (*RequestValidator, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, err
	}
	return &RequestValidator{
		router: router,
		logger: logger.With(slog.String("component", "request_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware валидации.
// Пути, отсутствующие в контракте, пропускаются без проверки (их обработает роутер).
// Аутентификация проверяется JWT middleware, поэтому security-схемы здесь не проверяются.
func (v *RequestValidator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
					MultiError:         false,
				},
			}

			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не прошёл валидацию",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage возвращает краткое описание ошибки без дампа схемы.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return "Некорректный параметр " + reqErr.Parameter.Name + ": " + reqErr.Reason
		}
		if reqErr.Reason != "" {
			return "Некорректное тело запроса: " + reqErr.Reason
		}
		if reqErr.Err != nil {
			var schemaErr *openapi3.SchemaError
			if errors.As(reqErr.Err, &schemaErr) {
				return "Некорректное тело запроса: " + schemaErr.Reason
			}
			return "Некорректное тело запроса: " + reqErr.Err.Error()
		}
	}
	return "Некорректный запрос"
}
