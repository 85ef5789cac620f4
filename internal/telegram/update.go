package telegram

import (
	"encoding/json"
	"fmt"
)

// Update is one pending bot message.
type Update struct {
	// ID is the source-assigned update_id.
	ID int64

	// Content is the message caption if present, otherwise its text.
	Content string
}

type updatesResponse struct {
	OK          *bool       `json:"ok"`
	Description string      `json:"description"`
	Result      *[]*envelope `json:"result"`
}

type envelope struct {
	UpdateID *int64   `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	Text    *string `json:"text"`
	Caption *string `json:"caption"`
}

// content returns the caption, then the text. ok is false when the message
// carries neither.
func (m *message) content() (string, bool) {
	if m.Caption != nil {
		return *m.Caption, true
	}
	if m.Text != nil {
		return *m.Text, true
	}
	return "", false
}

// parseUpdates decodes a getUpdates body into updates in source order.
// A body without a result list is an error.
// Envelopes without a message, or whose message has no text or caption,
// are dropped.
func parseUpdates(body []byte) ([]Update, error) {
	var resp updatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.OK != nil && !*resp.OK {
		if resp.Description != "" {
			return nil, fmt.Errorf("ok=false: %s", resp.Description)
		}
		return nil, fmt.Errorf("ok=false")
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("decode response: result is missing")
	}

	updates := make([]Update, 0, len(*resp.Result))
	for i, env := range *resp.Result {
		if env == nil || env.UpdateID == nil {
			return nil, fmt.Errorf("result[%d]: missing update_id", i)
		}
		if env.Message == nil {
			continue
		}
		text, ok := env.Message.content()
		if !ok {
			continue
		}
		updates = append(updates, Update{ID: *env.UpdateID, Content: text})
	}
	return updates, nil
}
