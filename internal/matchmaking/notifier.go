package matchmaking

import "context"

// Notifier delivers realtime events to a user. Delivery is best-effort:
// implementations must not block and must not report failures.
type Notifier interface {
	Notify(ctx context.Context, uid, event string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, any) {}

// NopNotifier drops every event.
var NopNotifier Notifier = nopNotifier{}

// MatchFoundPayload is sent to both participants when a pairing is made.
type MatchFoundPayload struct {
	SessionID  string `json:"session_id"`
	Role       string `json:"role"`
	PartnerUID string `json:"partner_uid"`
}

// InteractionPayload is sent to both participants when one records interest.
type InteractionPayload struct {
	SessionID string `json:"session_id"`
	FromUID   string `json:"from_uid"`
	ToUID     string `json:"to_uid"`
	Mutual    bool   `json:"mutual"`
}

// MutualMatchPayload is sent to both participants once a chat exists.
type MutualMatchPayload struct {
	SessionID  string `json:"session_id"`
	ChatID     string `json:"chat_id"`
	PartnerUID string `json:"partner_uid"`
}

// SessionClosedPayload is sent to the participant left behind.
type SessionClosedPayload struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	LeftUID   string `json:"left_uid"`
	Requeued  bool   `json:"requeued"`
}
