package account

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

type jwtPayload struct {
	Exp float64 `json:"exp"`
}

// TokenExpiresAt returns the expiry timestamp encoded in a JWT, if present.
//
// The signature is not verified; the value is used only for diagnostics. The
// time-based session lifetime policy remains authoritative.
func TokenExpiresAt(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, false
		}
	}

	var payload jwtPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return time.Time{}, false
	}
	if payload.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(payload.Exp), 0), true
}
