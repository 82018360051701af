package directory

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenFunc возвращает bearer-токен для запросов к каталогу.
// nil означает, что провайдер не настроен.
type TokenFunc func(ctx context.Context) (string, error)

// NewClientCredentialsToken создаёт TokenFunc на основе OAuth2 Client Credentials flow.
// Токен кэшируется и обновляется до истечения средствами oauth2.
// Если не задан хотя бы один из параметров — возвращает nil.
func NewClientCredentialsToken(tokenURL, clientID, clientSecret string, scopes []string, httpClient *http.Client) TokenFunc {
	if tokenURL == "" || clientID == "" || clientSecret == "" {
		return nil
	}

	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	ts := cfg.TokenSource(ctx)

	return func(context.Context) (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", fmt.Errorf("получение токена каталога: %w", err)
		}
		return tok.AccessToken, nil
	}
}
