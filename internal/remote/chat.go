package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

type chatRequest struct {
	Message string `json:"message"`
}

type translateRequest struct {
	Message        string `json:"message"`
	TargetLanguage string `json:"targetLanguage"`
	// Older chat backends read the language from this field.
	TranslateLanguage string `json:"translateLanguage"`
}

// Chat sends message to the assistant and returns its reply.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	body, err := c.do(ctx, "chat.send", jsonRequest(http.MethodPost, c.endpoint("/chat", nil), chatRequest{Message: message}))
	if err != nil {
		return "", err
	}
	return decodeReply(body, "message", "reply", "answer"), nil
}

func (c *Client) Translate(ctx context.Context, message, language string) (string, error) {
	payload := translateRequest{Message: message, TargetLanguage: language, TranslateLanguage: language}
	body, err := c.do(ctx, "chat.translate", jsonRequest(http.MethodPost, c.endpoint("/chat/translate", nil), payload))
	if err != nil {
		return "", err
	}
	return decodeReply(body, "message", "translated", "translation"), nil
}

// decodeReply extracts the first string field present, accepts a bare JSON
// string, and otherwise returns the body as text.
func decodeReply(body []byte, fields ...string) string {
	trimmed := bytes.TrimSpace(body)
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err == nil {
		for _, field := range fields {
			raw, ok := object[field]
			if !ok {
				continue
			}
			if err := json.Unmarshal(raw, &text); err == nil {
				return text
			}
		}
	}
	return string(trimmed)
}
