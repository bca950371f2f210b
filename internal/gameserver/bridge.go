// Package gameserver talks to the game server's HTTP bridge, which
// exposes player inventories and permission groups.
package gameserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/saulteafarmer/orangemart/internal/config"
)

// Bridge is the HTTP client for the in-game side of every trade: taking
// and granting the currency item and assigning the VIP group.
type Bridge struct {
	baseURL    string
	token      string
	currency   string
	vipGroup   string
	httpClient *http.Client
}

func New(cfg *config.Config) *Bridge {
	return &Bridge{
		baseURL:    cfg.BridgeURL,
		token:      cfg.BridgeToken,
		currency:   cfg.CurrencyName,
		vipGroup:   cfg.VIPGroup,
		httpClient: &http.Client{Timeout: config.BridgeTimeout},
	}
}

type currencyRequest struct {
	PlayerID string `json:"player_id"`
	Item     string `json:"item"`
	Units    int64  `json:"units"`
}

type currencyResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

type groupRequest struct {
	PlayerID string `json:"player_id"`
	Group    string `json:"group"`
}

// TakeCurrency removes units of the currency item from the player's
// inventory. Returns false with no error when the balance is short.
func (b *Bridge) TakeCurrency(ctx context.Context, playerID string, units int64) (bool, error) {
	var result currencyResponse
	err := b.post(ctx, "/inventory/take", currencyRequest{PlayerID: playerID, Item: b.currency, Units: units}, &result)
	if err != nil {
		return false, fmt.Errorf("take currency: %w", err)
	}
	return result.OK, nil
}

// GrantCurrency gives units of the currency item to the player.
func (b *Bridge) GrantCurrency(ctx context.Context, playerID string, units int64) error {
	var result currencyResponse
	err := b.post(ctx, "/inventory/give", currencyRequest{PlayerID: playerID, Item: b.currency, Units: units}, &result)
	if err != nil {
		return fmt.Errorf("grant currency: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("grant currency: %s", result.Reason)
	}
	return nil
}

// ReturnCurrency refunds units previously taken. Same endpoint as a
// grant; the bridge does not distinguish refunds.
func (b *Bridge) ReturnCurrency(ctx context.Context, playerID string, units int64) error {
	var result currencyResponse
	err := b.post(ctx, "/inventory/give", currencyRequest{PlayerID: playerID, Item: b.currency, Units: units}, &result)
	if err != nil {
		return fmt.Errorf("return currency: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("return currency: %s", result.Reason)
	}
	return nil
}

// GrantVIP adds the player to the configured VIP permission group.
func (b *Bridge) GrantVIP(ctx context.Context, playerID string) error {
	var result currencyResponse
	err := b.post(ctx, "/groups/add", groupRequest{PlayerID: playerID, Group: b.vipGroup}, &result)
	if err != nil {
		return fmt.Errorf("grant vip: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("grant vip: %s", result.Reason)
	}
	return nil
}

func (b *Bridge) post(ctx context.Context, path string, payload, out any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+path, bytes.NewReader(payloadJSON))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
