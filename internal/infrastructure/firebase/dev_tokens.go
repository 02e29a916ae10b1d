package firebase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// GenerateLongLivedToken mints a token for local development. When an API key
// is configured the custom token is exchanged for a real ID token that passes
// VerifyToken; without one the raw custom token is returned.
func (f *FirebaseAuthClient) GenerateLongLivedToken(ctx context.Context, uid string) (string, error) {
	customToken, err := f.client.CustomToken(ctx, uid)
	if err != nil {
		return "", err
	}

	if f.apiKey != "" {
		idToken, err := f.exchangeCustomTokenForIDToken(ctx, customToken)
		if err != nil {
			return "", err
		}
		return idToken, nil
	}

	return customToken, nil
}

func (f *FirebaseAuthClient) exchangeCustomTokenForIDToken(ctx context.Context, customToken string) (string, error) {
	url := fmt.Sprintf("https://identitytoolkit.googleapis.com/v1/accounts:signInWithCustomToken?key=%s", f.apiKey)

	body := fmt.Sprintf(`{"token":%q,"returnSecureToken":true}`, customToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	var result struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.IDToken, nil
}
