package evolution

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"salon_notification_engine/internal/domain/gateway"
)

const (
	eventMessagesUpdate = "messages.update"
	eventMessagesUpsert = "messages.upsert"
)

type webhookEnvelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type messageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type contextInfo struct {
	StanzaID string `json:"stanzaId"`
}

type statusData struct {
	KeyID     string          `json:"keyId"`
	Key       messageKey      `json:"key"`
	RemoteJid string          `json:"remoteJid"`
	FromMe    bool            `json:"fromMe"`
	Status    json.RawMessage `json:"status"`
	Update    struct {
		Status json.RawMessage `json:"status"`
	} `json:"update"`
}

type upsertData struct {
	Key              messageKey   `json:"key"`
	PushName         string       `json:"pushName"`
	ContextInfo      *contextInfo `json:"contextInfo"`
	MessageTimestamp flexibleUnix `json:"messageTimestamp"`
	Message          struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text        string       `json:"text"`
			ContextInfo *contextInfo `json:"contextInfo"`
		} `json:"extendedTextMessage"`
		ButtonsResponseMessage *struct {
			SelectedDisplayText string       `json:"selectedDisplayText"`
			SelectedButtonID    string       `json:"selectedButtonId"`
			ContextInfo         *contextInfo `json:"contextInfo"`
		} `json:"buttonsResponseMessage"`
		TemplateButtonReplyMessage *struct {
			SelectedDisplayText string       `json:"selectedDisplayText"`
			ContextInfo         *contextInfo `json:"contextInfo"`
		} `json:"templateButtonReplyMessage"`
	} `json:"message"`
}

// ParseWebhook turns one callback body into normalized events. Only malformed JSON
// is an error; shapes it does not understand become EventUnknown.
func ParseWebhook(body []byte) ([]gateway.Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding webhook envelope: %w", err)
	}

	items, err := splitData(env.Data)
	if err != nil {
		return nil, err
	}

	event := strings.ToLower(strings.ReplaceAll(env.Event, "_", "."))
	events := make([]gateway.Event, 0, len(items))
	for _, raw := range items {
		switch event {
		case eventMessagesUpdate:
			var d statusData
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("decoding status update: %w", err)
			}
			events = append(events, d.toEvent())
		case eventMessagesUpsert:
			var d upsertData
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("decoding inbound message: %w", err)
			}
			if d.Key.FromMe {
				events = append(events, gateway.Event{Kind: gateway.EventUnknown, GatewayMessageID: d.Key.ID})
				continue
			}
			events = append(events, d.toEvent())
		default:
			events = append(events, gateway.Event{Kind: gateway.EventUnknown})
		}
	}
	return events, nil
}

// splitData accepts either a single object or an array of objects.
func splitData(data json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []json.RawMessage{json.RawMessage("{}")}, nil
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decoding webhook data: %w", err)
	}
	return items, nil
}

func (d statusData) toEvent() gateway.Event {
	id := d.KeyID
	if id == "" {
		id = d.Key.ID
	}
	status := d.Status
	if len(status) == 0 {
		status = d.Update.Status
	}
	return gateway.Event{
		Kind:             gateway.EventStatusUpdate,
		GatewayMessageID: id,
		Status:           mapReceipt(status),
		ReceivedAt:       time.Now(),
	}
}

func (d upsertData) toEvent() gateway.Event {
	m := d.Message
	text := m.Conversation
	var quoted *contextInfo
	switch {
	case m.ButtonsResponseMessage != nil:
		text, quoted = m.ButtonsResponseMessage.SelectedDisplayText, m.ButtonsResponseMessage.ContextInfo
	case m.TemplateButtonReplyMessage != nil:
		text, quoted = m.TemplateButtonReplyMessage.SelectedDisplayText, m.TemplateButtonReplyMessage.ContextInfo
	case m.ExtendedTextMessage != nil:
		text, quoted = m.ExtendedTextMessage.Text, m.ExtendedTextMessage.ContextInfo
	}
	if quoted == nil || quoted.StanzaID == "" {
		quoted = d.ContextInfo
	}

	id := d.Key.ID
	if quoted != nil && quoted.StanzaID != "" {
		id = quoted.StanzaID
	}

	received := time.Time(d.MessageTimestamp)
	if received.IsZero() {
		received = time.Now()
	}
	return gateway.Event{
		Kind:             gateway.EventInboundMessage,
		GatewayMessageID: id,
		Text:             text,
		FromPhone:        phoneFromJid(d.Key.RemoteJid),
		ReceivedAt:       received,
	}
}

// mapReceipt accepts both the named ack codes and the older numeric ones.
func mapReceipt(raw json.RawMessage) gateway.ReceiptStatus {
	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return gateway.ReceiptOther
		}
		code = strconv.Itoa(n)
	}
	switch strings.ToUpper(code) {
	case "SERVER_ACK", "2":
		return gateway.ReceiptSent
	case "DELIVERY_ACK", "3":
		return gateway.ReceiptDelivered
	case "READ", "PLAYED", "4", "5":
		return gateway.ReceiptRead
	default:
		return gateway.ReceiptOther
	}
}

func phoneFromJid(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// flexibleUnix decodes unix seconds sent either as a number or a string.
type flexibleUnix time.Time

func (u *flexibleUnix) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	*u = flexibleUnix(time.Unix(secs, 0))
	return nil
}
