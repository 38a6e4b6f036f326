package approval

import (
	"context"
	"regexp"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2keychains/2kc/common/retry"
	"github.com/2keychains/2kc/internal/brokererr"
)

const matrixPollInterval = 2500 * time.Millisecond

var decisionPattern = regexp.MustCompile(`(?i)^\s*(approve|deny)\s+(\S+)`)

// MatrixConfig names the homeserver, bot identity, and room for a Matrix
// approval channel, per the config file's matrix{} section.
type MatrixConfig struct {
	HomeserverURL string
	UserID        string
	AccessToken   string
	RoomID        string
}

// Matrix is the Matrix room + text-command Channel variant: a one-shot
// post-then-poll usage rather than a long-lived room sync loop.
type Matrix struct {
	cfg    MatrixConfig
	client *mautrix.Client
	room   id.RoomID
	self   id.UserID
}

// NewMatrix connects to cfg.HomeserverURL with a small exponential-backoff
// retry budget.
func NewMatrix(ctx context.Context, cfg MatrixConfig) (*Matrix, error) {
	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.ApprovalChannelFailure, "constructing matrix client", err)
	}

	err = retry.Do(ctx, retry.DefaultConfig, func() error {
		_, pingErr := client.Whoami(ctx)
		return pingErr
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.ApprovalChannelFailure, "connecting to matrix homeserver", err)
	}

	return &Matrix{
		cfg:    cfg,
		client: client,
		room:   id.RoomID(cfg.RoomID),
		self:   id.UserID(cfg.UserID),
	}, nil
}

// SendApprovalRequest posts summary.Text() to the configured room and
// returns the Matrix event id as the message handle.
func (m *Matrix) SendApprovalRequest(ctx context.Context, summary Summary) (string, error) {
	resp, err := m.client.SendText(ctx, m.room, summary.Text())
	if err != nil {
		return "", brokererr.Wrap(brokererr.ApprovalChannelFailure, "posting approval request to matrix room", err)
	}
	return string(resp.EventID), nil
}

// WaitForResponse polls the room timeline after messageID for a reply of the
// form "approve <id>" or "deny <id>" from any member other than the bot
// itself; the first matching reply wins.
func (m *Matrix) WaitForResponse(ctx context.Context, messageID string, timeout time.Duration) (Verdict, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(matrixPollInterval)
	defer ticker.Stop()

	seenPast := true
	for {
		events, err := m.client.Messages(ctx, m.room, "", "", mautrix.DirectionForward, nil, 50)
		if err != nil {
			return VerdictTimeout, brokererr.Wrap(brokererr.ApprovalChannelFailure, "polling matrix room timeline", err)
		}
		for _, evt := range events.Chunk {
			if seenPast && string(evt.ID) != messageID {
				continue
			}
			if string(evt.ID) == messageID {
				seenPast = false
				continue
			}
			if evt.Sender == m.self {
				continue
			}
			msg := evt.Content.AsMessage()
			if msg == nil {
				continue
			}
			verdict, ok := parseDecision(msg.Body)
			if ok {
				return verdict, nil
			}
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

// SendNotification posts a plain-text message to the configured room.
func (m *Matrix) SendNotification(ctx context.Context, text string) error {
	if _, err := m.client.SendText(ctx, m.room, text); err != nil {
		return brokererr.Wrap(brokererr.ApprovalChannelFailure, "posting notification to matrix room", err)
	}
	return nil
}

// parseDecision recognizes "approve <id>" / "deny <id>" free text.
func parseDecision(text string) (Verdict, bool) {
	m := decisionPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	switch strings.ToLower(m[1]) {
	case "approve":
		return VerdictApproved, true
	case "deny":
		return VerdictDenied, true
	default:
		return "", false
	}
}
