package providers

import (
	"encoding/json"

	"go.pilab.hu/cloudguard/domain"
)

func decodeJSONMap(body []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// identityFromClaims maps the common OIDC user info claims onto an Identity.
func identityFromClaims(claims map[string]any) *domain.Identity {
	id := &domain.Identity{RawData: claims}
	if v, ok := claims["sub"].(string); ok {
		id.Subject = v
	}
	if v, ok := claims["email"].(string); ok {
		id.Email = v
	}
	if v, ok := claims["name"].(string); ok {
		id.Name = v
	}
	if v, ok := claims["preferred_username"].(string); ok {
		id.Username = v
	}
	return id
}
