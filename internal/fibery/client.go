package fibery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL is the workspace netloc, e.g. "https://acme.fibery.io".
	BaseURL string

	// Token is sent as "Authorization: Token <token>".
	Token string

	// Schema names the destination fields. Blank fields take defaults.
	Schema Schema

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client wraps the workspace command and document endpoints.
type Client struct {
	baseURL    string
	token      string
	schema     Schema
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:      strings.TrimSpace(opts.Token),
		schema:     opts.Schema.WithDefaults(),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Schema returns the effective schema.
func (c *Client) Schema() Schema {
	return c.schema
}

// FindEntityBySyncKey returns the id of the entity carrying key.
// found is false when no entity matches; absence is not an error.
func (c *Client) FindEntityBySyncKey(ctx context.Context, key string) (string, bool, error) {
	cmd := FindBySyncKey{Schema: c.schema, SyncKey: key}
	var rows []map[string]any
	if err := c.execute(ctx, cmd, &rows); err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	id, ok := rows[0][c.schema.IDField].(string)
	if !ok || id == "" {
		return "", false, c.shapeError(cmd.Operation(), "query row has no %q", c.schema.IDField)
	}
	return id, true, nil
}

// CreateEntity creates an entity with newID and key and returns the id the
// workspace echoes back, which must equal newID.
func (c *Client) CreateEntity(ctx context.Context, newID, key string) (string, error) {
	cmd := CreateMaterial{Schema: c.schema, ID: newID, SyncKey: key}
	var entity map[string]any
	if err := c.execute(ctx, cmd, &entity); err != nil {
		return "", err
	}
	id, _ := entity[c.schema.IDField].(string)
	if id != newID {
		return "", c.shapeError(cmd.Operation(), "created entity id %q does not match requested %q", id, newID)
	}
	return id, nil
}

// ResolveDocumentSecret returns the secret of the document linked to
// entityID. It fails with ErrDocumentNotLinked when the query yields no row
// or the row carries no secret.
func (c *Client) ResolveDocumentSecret(ctx context.Context, entityID string) (string, error) {
	cmd := ResolveSecret{Schema: c.schema, EntityID: entityID}
	var rows []map[string]any
	if err := c.execute(ctx, cmd, &rows); err != nil {
		return "", err
	}
	notLinked := &CommandError{
		Operation: cmd.Operation(),
		Status:    http.StatusOK,
		Message:   fmt.Sprintf("entity %s has no %q", entityID, c.schema.DocumentField),
		Err:       ErrDocumentNotLinked,
	}
	if len(rows) == 0 {
		return "", notLinked
	}
	doc, ok := rows[0][c.schema.DocumentField].(map[string]any)
	if !ok {
		return "", notLinked
	}
	secret, _ := doc[c.schema.SecretField].(string)
	if strings.TrimSpace(secret) == "" {
		return "", notLinked
	}
	return secret, nil
}

// PushContent replaces the document addressed by secret with text, as Markdown.
func (c *Client) PushContent(ctx context.Context, secret, text string) error {
	if strings.TrimSpace(secret) == "" {
		return &CommandError{Operation: OpPushContent, Message: "document secret is required"}
	}
	body, err := encodeJSON(struct {
		Content string `json:"content"`
	}{Content: text})
	if err != nil {
		return &CommandError{Operation: OpPushContent, Message: "encode content", Err: err}
	}
	path := "/api/documents/" + url.PathEscape(secret) + "?format=md"
	_, err = c.do(ctx, OpPushContent, http.MethodPut, path, body)
	return err
}

type commandResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// execute posts a single-command batch and decodes the result into out.
func (c *Client) execute(ctx context.Context, cmd Command, out any) error {
	op := cmd.Operation()
	body, err := EncodeBatch(cmd)
	if err != nil {
		return &CommandError{Operation: op, Message: "encode command", Err: err}
	}
	payload, err := c.do(ctx, op, http.MethodPost, "/api/commands", body)
	if err != nil {
		return err
	}

	var results []commandResult
	if err := json.Unmarshal(payload, &results); err != nil {
		return &CommandError{Operation: op, Status: http.StatusOK, Message: "decode response", Err: err}
	}
	if len(results) == 0 {
		return c.shapeError(op, "empty response list")
	}
	res := results[0]
	if !res.Success {
		return &CommandError{Operation: op, Status: http.StatusOK, Message: resultMessage(res.Result)}
	}
	if err := json.Unmarshal(res.Result, out); err != nil {
		return &CommandError{Operation: op, Status: http.StatusOK, Message: "decode result", Err: err}
	}
	return nil
}

// do performs one authenticated round trip and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op Operation, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &CommandError{Operation: op, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CommandError{Operation: op, Message: "transport", Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	c.logger.Debug("fibery request",
		"operation", op,
		"method", method,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if readErr != nil {
		return nil, &CommandError{Operation: op, Status: resp.StatusCode, Message: "read response", Err: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CommandError{
			Operation: op,
			Status:    resp.StatusCode,
			Message:   errorMessage(payload),
		}
	}
	return payload, nil
}

func (c *Client) shapeError(op Operation, format string, args ...any) error {
	return &CommandError{
		Operation: op,
		Status:    http.StatusOK,
		Message:   "unexpected result: " + fmt.Sprintf(format, args...),
	}
}

// resultMessage extracts the message of a failed command result.
// Fibery reports failures as {"name": ..., "message": ...}.
func resultMessage(raw json.RawMessage) string {
	var parsed struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Message != "" {
		if parsed.Name != "" {
			return parsed.Name + ": " + parsed.Message
		}
		return parsed.Message
	}
	if len(raw) == 0 {
		return "command reported success=false"
	}
	return strings.TrimSpace(string(raw))
}

// errorMessage extracts a message from a non-2xx body, falling back to the raw text.
func errorMessage(payload []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(payload, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(payload))
}

// encodeJSON marshals without HTML escaping so message bodies reach the
// workspace byte for byte.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
