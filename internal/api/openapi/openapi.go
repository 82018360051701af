// Пакет openapi — встроенный OpenAPI-контракт Directory Sync.
package openapi

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Spec возвращает исходный YAML контракта.
func Spec() []byte {
	return specYAML
}

// Load разбирает и проверяет встроенный контракт.
// Серверы документа сбрасываются: маршрутизация валидатора не зависит от хоста.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("проверка OpenAPI: %w", err)
	}

	doc.Servers = nil
	return doc, nil
}
