// Package storage reads the pre-provisioned account material the bot runs
// with: session descriptors (identity, user agent, proxy, captured Telegram
// init data) and the helpers that turn them into backend credentials.
package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"strings"
)

// SessionDescriptor is one account's static inputs. Loaded once at startup
// and never mutated afterwards.
type SessionDescriptor struct {
	// ID is the Telegram user id, used as the backend userId.
	ID int64 `json:"id"`

	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    string `json:"avatar"`

	// UserAgent pins the browser identity for all of this account's traffic.
	UserAgent string `json:"userAgent"`
	// Proxy is the account's egress endpoint (http, https or socks5 URL).
	// Empty means direct.
	Proxy string `json:"proxy"`

	// InitData is the captured Telegram web-app data blob
	// (query_id=...&user=...&hash=...) proving this account's identity.
	InitData string `json:"initData"`
}

// LoadSessions reads session descriptors from a JSON array file.
func LoadSessions(path string) ([]SessionDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions file: %w", err)
	}

	var sessions []SessionDescriptor
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions file %s: %w", path, err)
	}

	for i, s := range sessions {
		if s.ID == 0 {
			return nil, fmt.Errorf("session #%d has no id", i)
		}
	}
	return sessions, nil
}

// RandomProxy picks a proxy from a pool. Per-account proxies are normally
// fixed in the descriptor; this exists for setups that rotate a shared pool
// at assignment time.
func RandomProxy(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.Intn(len(pool))]
}

// BuildStartupData assembles the query fragment the backend accepts as proof
// of Telegram identity: profile fields plus the base64-encoded raw init data
// as the signature.
func BuildStartupData(sd SessionDescriptor, referralID string) string {
	sign := base64.StdEncoding.EncodeToString([]byte(sd.InitData))

	var b strings.Builder
	fmt.Fprintf(&b, "userId=%d", sd.ID)
	fmt.Fprintf(&b, "&avatar=%s", url.QueryEscape(sd.Avatar))
	fmt.Fprintf(&b, "&name=%s", url.QueryEscape(sd.FirstName))
	fmt.Fprintf(&b, "&lastName=%s", url.QueryEscape(sd.LastName))
	fmt.Fprintf(&b, "&nickname=%s", url.QueryEscape(sd.Username))
	fmt.Fprintf(&b, "&ref=%s", url.QueryEscape(referralID))
	fmt.Fprintf(&b, "&sign=%s", url.QueryEscape(sign))
	return b.String()
}
