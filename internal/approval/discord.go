package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2keychains/2kc/internal/brokererr"
)

const (
	discordPollInterval = 2500 * time.Millisecond
	discordAPIBase      = "https://discord.com/api/v10"
	approveEmoji        = "✅" // checkmark
	denyEmoji           = "❌" // cross mark
	maxDiscordBodyBytes = 1 << 20
)

// DiscordConfig names the webhook and bot credentials for a Discord
// approval channel, per the config file's discord{} section.
type DiscordConfig struct {
	WebhookURL string
	BotToken   string
	ChannelID  string
}

// Discord is the Discord webhook + reaction-polling Channel variant: raw
// net/http posting to the webhook URL, and a ticker-based loop polling the
// reactions endpoint with a Bot authorization header.
type Discord struct {
	cfg          DiscordConfig
	client       *http.Client
	apiBase      string
	pollInterval time.Duration
}

// NewDiscord returns a Discord channel using cfg.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		cfg:          cfg,
		client:       &http.Client{Timeout: 10 * time.Second},
		apiBase:      discordAPIBase,
		pollInterval: discordPollInterval,
	}
}

// NewDiscordForTest returns a Discord channel pointed at a fake API server
// with a tight poll interval, for use against httptest.Server in tests.
func NewDiscordForTest(cfg DiscordConfig, apiBase string) *Discord {
	return &Discord{
		cfg:          cfg,
		client:       &http.Client{Timeout: 2 * time.Second},
		apiBase:      apiBase,
		pollInterval: 10 * time.Millisecond,
	}
}

type discordMessage struct {
	ID string `json:"id"`
}

// SendApprovalRequest posts summary.Text() to the webhook with ?wait=true so
// Discord returns the created message's id.
func (d *Discord) SendApprovalRequest(ctx context.Context, summary Summary) (string, error) {
	url := d.cfg.WebhookURL
	if !strings.Contains(url, "?") {
		url += "?wait=true"
	} else {
		url += "&wait=true"
	}

	body, err := json.Marshal(map[string]string{"content": summary.Text()})
	if err != nil {
		return "", brokererr.Wrap(brokererr.ApprovalChannelFailure, "encoding approval request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", brokererr.Wrap(brokererr.ApprovalChannelFailure, "building webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", brokererr.Wrap(brokererr.ApprovalChannelFailure, "posting approval request to discord", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", brokererr.New(brokererr.ApprovalChannelFailure, fmt.Sprintf("discord webhook returned status %d", resp.StatusCode))
	}

	var msg discordMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscordBodyBytes)).Decode(&msg); err != nil {
		return "", brokererr.Wrap(brokererr.ApprovalChannelFailure, "decoding discord webhook response", err)
	}
	return msg.ID, nil
}

// WaitForResponse polls the reactions endpoint every 2.5s until approve or
// deny is observed, or timeout elapses. Approve takes precedence when both
// reactions are present in the same poll.
func (d *Discord) WaitForResponse(ctx context.Context, messageID string, timeout time.Duration) (Verdict, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		approved, err := d.checkReaction(ctx, messageID, approveEmoji)
		if err != nil {
			return VerdictTimeout, err
		}
		// Approve takes precedence when both are present at the same poll,
		// so check it first and short-circuit before looking at deny.
		if approved {
			return VerdictApproved, nil
		}
		denied, err := d.checkReaction(ctx, messageID, denyEmoji)
		if err != nil {
			return VerdictTimeout, err
		}
		if denied {
			return VerdictDenied, nil
		}

		if time.Now().After(deadline) {
			return VerdictTimeout, nil
		}

		select {
		case <-ctx.Done():
			return VerdictTimeout, ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkReaction reports whether the named emoji has at least one reaction.
// A 404 from Discord means the message is not yet indexed and is treated as
// "no reactions", not an error.
func (d *Discord) checkReaction(ctx context.Context, messageID, emoji string) (bool, error) {
	url := fmt.Sprintf("%s/channels/%s/messages/%s/reactions/%s",
		d.apiBase, d.cfg.ChannelID, messageID, emoji)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, brokererr.Wrap(brokererr.ApprovalChannelFailure, "building reactions request", err)
	}
	req.Header.Set("Authorization", "Bot "+d.cfg.BotToken)

	resp, err := d.client.Do(req)
	if err != nil {
		return false, brokererr.Wrap(brokererr.ApprovalChannelFailure, "polling discord reactions", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, brokererr.New(brokererr.ApprovalChannelFailure, fmt.Sprintf("discord reactions endpoint returned status %d", resp.StatusCode))
	}

	var users []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscordBodyBytes)).Decode(&users); err != nil {
		return false, brokererr.Wrap(brokererr.ApprovalChannelFailure, "decoding discord reactions response", err)
	}
	return len(users) > 0, nil
}

// SendNotification posts a fire-and-forget text message to the webhook.
func (d *Discord) SendNotification(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return brokererr.Wrap(brokererr.ApprovalChannelFailure, "encoding notification body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return brokererr.Wrap(brokererr.ApprovalChannelFailure, "building notification request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return brokererr.Wrap(brokererr.ApprovalChannelFailure, "posting notification to discord", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiscordBodyBytes))

	if resp.StatusCode >= 300 {
		return brokererr.New(brokererr.ApprovalChannelFailure, fmt.Sprintf("discord webhook returned status %d", resp.StatusCode))
	}
	return nil
}
