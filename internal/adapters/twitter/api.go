package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twitter.com"

const (
	dmListPath     = "/1.1/direct_messages/events/list.json"
	dmSendPath     = "/1.1/direct_messages/events/new.json"
	userLookupPath = "/1.1/users/lookup.json"
)

// API is the slice of the Twitter surface the adapter needs. The HTTP client
// implements it; tests substitute fakes.
type API interface {
	ListMessages(ctx context.Context) ([]DirectMessage, error)
	LookupUsers(ctx context.Context, ids, screenNames []string) ([]User, error)
	SendMessage(ctx context.Context, recipientID, text string) error
}

// DirectMessage is one parsed inbound DM event.
type DirectMessage struct {
	SenderID string
	Text     string
	Created  uint64
}

// User is one directory lookup result.
type User struct {
	ID         string
	ScreenName string
}

// APIError carries Twitter's structured error payload.
type APIError struct {
	Errors []struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return "twitter api error"
	}
	return fmt.Sprintf("twitter api error %d: %s", e.Errors[0].Code, e.Errors[0].Message)
}

// Client is the OAuth1.0a-signed HTTP client for the v1.1 DM endpoints.
type Client struct {
	http    *http.Client
	baseURL string
	signer  *oauthSigner
	logger  *slog.Logger
}

func NewClient(consumerKey, consumerSecret, token, tokenSecret string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: defaultBaseURL,
		signer:  newOAuthSigner(consumerKey, consumerSecret, token, tokenSecret),
		logger:  logger,
	}
}

func (c *Client) ListMessages(ctx context.Context) ([]DirectMessage, error) {
	var payload apiMessageEvent
	if err := c.get(ctx, dmListPath, nil, &payload); err != nil {
		return nil, err
	}

	var out []DirectMessage
	for _, event := range payload.Events {
		msg, err := event.toDirectMessage()
		if err != nil {
			// Malformed provider data is recoverable per message; the
			// batch continues.
			c.logger.Warn("skipping malformed message event", "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c *Client) LookupUsers(ctx context.Context, ids, screenNames []string) ([]User, error) {
	params := url.Values{}
	if len(ids) > 0 {
		params.Set("user_id", strings.Join(ids, ","))
	}
	if len(screenNames) > 0 {
		cleaned := make([]string, 0, len(screenNames))
		for _, name := range screenNames {
			cleaned = append(cleaned, strings.TrimPrefix(name, "@"))
		}
		params.Set("screen_name", strings.Join(cleaned, ","))
	}

	var payload []struct {
		ID         uint64 `json:"id"`
		ScreenName string `json:"screen_name"`
	}
	if err := c.get(ctx, userLookupPath, params, &payload); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("twitter lookup returned no users")
	}

	users := make([]User, 0, len(payload))
	for _, obj := range payload {
		users = append(users, User{
			ID:         strconv.FormatUint(obj.ID, 10),
			ScreenName: obj.ScreenName,
		})
	}
	return users, nil
}

func (c *Client) SendMessage(ctx context.Context, recipientID, text string) error {
	var out apiMessageEvent
	return c.post(ctx, dmSendPath, newSendEvent(recipientID, text), &out)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	full := c.baseURL + path
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.signer.authorize(req, params)
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.signer.authorize(req, nil)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("twitter request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read twitter response: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		var apiErr APIError
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && len(apiErr.Errors) > 0 {
			return &apiErr
		}
		return fmt.Errorf("decode twitter response: %w", err)
	}
	return nil
}

// Wire shapes for the v1.1 direct message event endpoints.

type apiMessageEvent struct {
	Event  *apiEvent  `json:"event,omitempty"`
	Events []apiEvent `json:"events,omitempty"`
}

type apiEvent struct {
	Type             string           `json:"type"`
	CreatedTimestamp string           `json:"created_timestamp,omitempty"`
	MessageCreate    apiMessageCreate `json:"message_create"`
}

type apiMessageCreate struct {
	Target      apiTarget      `json:"target"`
	SenderID    string         `json:"sender_id,omitempty"`
	MessageData apiMessageData `json:"message_data"`
}

type apiTarget struct {
	RecipientID string `json:"recipient_id"`
}

type apiMessageData struct {
	Text string `json:"text"`
}

func newSendEvent(recipientID, text string) apiMessageEvent {
	return apiMessageEvent{
		Event: &apiEvent{
			Type: "message_create",
			MessageCreate: apiMessageCreate{
				Target:      apiTarget{RecipientID: recipientID},
				MessageData: apiMessageData{Text: text},
			},
		},
	}
}

func (e apiEvent) toDirectMessage() (DirectMessage, error) {
	if e.MessageCreate.SenderID == "" {
		return DirectMessage{}, fmt.Errorf("event without sender id")
	}
	if _, err := strconv.ParseUint(e.MessageCreate.SenderID, 10, 64); err != nil {
		return DirectMessage{}, fmt.Errorf("unparseable sender id %q", e.MessageCreate.SenderID)
	}
	if e.CreatedTimestamp == "" {
		return DirectMessage{}, fmt.Errorf("event without created timestamp")
	}
	created, err := strconv.ParseUint(e.CreatedTimestamp, 10, 64)
	if err != nil {
		return DirectMessage{}, fmt.Errorf("unparseable created timestamp %q", e.CreatedTimestamp)
	}
	return DirectMessage{
		SenderID: e.MessageCreate.SenderID,
		Text:     e.MessageCreate.MessageData.Text,
		Created:  created,
	}, nil
}
