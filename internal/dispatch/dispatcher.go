package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/routing"
)

// Dispatcher hands a routed message to the downstream agent service. A nil
// Reply means the service has nothing to send back.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg routing.RoutedMessage) (*Reply, error)
}

// Reply is the agent service's answer to a routed message.
type Reply struct {
	// Text is sent back to the conversation the message came from.
	Text string `json:"text,omitempty"`
	// Context values are stored on the sender's session, e.g. "name".
	Context map[string]string `json:"context,omitempty"`
}

func (r *Reply) empty() bool {
	return r == nil || (r.Text == "" && len(r.Context) == 0)
}

// LogDispatcher only logs routed messages. It is used when no agent
// service is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, msg routing.RoutedMessage) (*Reply, error) {
	slog.Info("dispatch.routed",
		"message_id", msg.Envelope.MessageID,
		"tenant", msg.TenantID,
		"resolved", msg.Resolved,
		"context", msg.Context,
		"role", msg.Identity.Role,
		"conversation", msg.ConversationKey,
	)
	return nil, nil
}

// Payload is the JSON body posted to the agent service.
type Payload struct {
	MessageID       string          `json:"message_id,omitempty"`
	Channel         string          `json:"channel"`
	TenantID        string          `json:"tenant_id,omitempty"`
	Resolved        bool            `json:"resolved"`
	Source          string          `json:"source,omitempty"`
	Context         string          `json:"context"`
	ConversationKey string          `json:"conversation_key,omitempty"`
	IsGroup         bool            `json:"is_group"`
	GroupAddress    string          `json:"group_address,omitempty"`
	Recipient       string          `json:"recipient"`
	Sender          string          `json:"sender"`
	Text            string          `json:"text"`
	Identity        PayloadIdentity `json:"identity"`
}

type PayloadIdentity struct {
	Phone          string `json:"phone"`
	Role           string `json:"role"`
	UserID         string `json:"user_id,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	Source         string `json:"source"`
	SessionID      string `json:"session_id,omitempty"`
	UserSwitch     bool   `json:"user_switch,omitempty"`
	IsAdminMessage bool   `json:"is_admin_message,omitempty"`
}

// NewPayload converts a routed message to its wire form.
func NewPayload(msg routing.RoutedMessage) Payload {
	env, id := msg.Envelope, msg.Identity
	p := Payload{
		MessageID:       env.MessageID,
		Channel:         env.Channel,
		Resolved:        msg.Resolved,
		Source:          string(msg.Source),
		Context:         string(msg.Context),
		ConversationKey: msg.ConversationKey,
		IsGroup:         env.IsGroup,
		GroupAddress:    env.GroupAddress,
		Recipient:       env.Recipient,
		Sender:          env.Sender,
		Text:            env.Text,
		Identity: PayloadIdentity{
			Phone:          id.Phone,
			Role:           string(id.Role),
			DisplayName:    id.DisplayName,
			Source:         string(id.Source),
			SessionID:      id.SessionID,
			UserSwitch:     id.UserSwitch,
			IsAdminMessage: id.IsAdminMessage,
		},
	}
	if msg.TenantID != uuid.Nil {
		p.TenantID = msg.TenantID.String()
	}
	if id.UserID != uuid.Nil {
		p.Identity.UserID = id.UserID.String()
	}
	return p
}

// WebhookDispatcher POSTs routed messages as JSON.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	return &WebhookDispatcher{url: url, client: &http.Client{Timeout: timeout}}
}

// maxReplyBytes bounds the agent service response body.
const maxReplyBytes = 1 << 16

// Dispatch posts msg and decodes the optional JSON reply. An empty body or a
// 204 means no reply.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, msg routing.RoutedMessage) (*Reply, error) {
	body, err := json.Marshal(NewPayload(msg))
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.TenantID != uuid.Nil {
		req.Header.Set("X-Edugate-Tenant", msg.TenantID.String())
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))
		return nil, fmt.Errorf("dispatch: agent service returned %s", resp.Status)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read dispatch reply: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode dispatch reply: %w", err)
	}
	if reply.empty() {
		return nil, nil
	}
	return &reply, nil
}
