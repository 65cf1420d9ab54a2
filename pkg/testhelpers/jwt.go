// Package testhelpers provides utilities for testing signportal components.
package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestJWT creates an unsigned test token (alg: none) for use when
// verification is disabled. Claims carry the user id and role the way
// tokens issued by POST /auth/login do.
func GenerateTestJWT(sub, role, email string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":"%s","iss":"signportal"`, sub)
	if role != "" {
		payload += fmt.Sprintf(`,"role":"%s"`, role)
	}
	if email != "" {
		payload += fmt.Sprintf(`,"email":"%s"`, email)
	}
	payload += "}"

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, role, email string) string {
	return "Bearer " + GenerateTestJWT(sub, role, email)
}
