package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"валидация", func(w http.ResponseWriter) { ValidationError(w, "x") }, http.StatusBadRequest, CodeValidationError},
		{"не найдено", func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound, CodeNotFound},
		{"без токена", func(w http.ResponseWriter) { Unauthorized(w, "x") }, http.StatusUnauthorized, CodeUnauthorized},
		{"нет прав", func(w http.ResponseWriter) { Forbidden(w, "x") }, http.StatusForbidden, CodeForbidden},
		{"конфликт", func(w http.ResponseWriter) { Conflict(w, "x") }, http.StatusConflict, CodeConflict},
		{"каталог недоступен", func(w http.ResponseWriter) { DirectoryUnavailable(w, "x") }, http.StatusBadGateway, CodeDirectoryUnavailable},
		{"внутренняя ошибка", func(w http.ResponseWriter) { InternalError(w, "x") }, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус: ожидался %d, получен %d", tt.wantStatus, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type: ожидался application/json, получен %q", ct)
			}

			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("некорректный JSON: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code: ожидался %s, получен %s", tt.wantCode, body.Error.Code)
			}
			if body.Error.Message != "x" {
				t.Errorf("message: ожидался x, получен %q", body.Error.Message)
			}
		})
	}
}
