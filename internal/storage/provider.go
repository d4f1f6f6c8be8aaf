package storage

import (
	"context"
	"fmt"
)

// InitDataProvider yields startup data for accounts whose Telegram init data
// was captured ahead of time. Accounts without captured data are treated as
// login failures, exactly like a failed live handshake would be.
type InitDataProvider struct {
	// ReferralID is embedded in every produced startup data fragment.
	ReferralID string
}

// ObtainStartupData returns the backend-ready startup data for sd.
func (p *InitDataProvider) ObtainStartupData(_ context.Context, sd SessionDescriptor) (string, error) {
	if sd.InitData == "" {
		return "", fmt.Errorf("session %d has no captured init data", sd.ID)
	}
	return BuildStartupData(sd, p.ReferralID), nil
}
