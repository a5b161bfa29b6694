// Package rest implements the HTTP API client backing the pull side of the
// messaging core: paginated history fetches, message submission, read
// acknowledgements, reactions, deletion, and attachment upload. Responses
// outside the 2xx range are mapped onto the chat error taxonomy so callers
// can decide between retry, surface-to-user, and give-up without inspecting
// status codes.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/whisper/messenger-sdk/chat"
)

// Client talks to the messaging REST API. All requests carry the opaque
// session credential as a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the given API root. timeout bounds each
// individual request; retrying is the caller's concern.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// HistoryPage is one page of a chat's message history, ordered ascending by
// created_at within the page.
type HistoryPage struct {
	Messages   []chat.Message `json:"messages"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// History fetches a page of messages for a chat. cursor is the id of the
// oldest message already held ("" for the newest page); the server returns
// the page of messages older than it. An exhausted history comes back as an
// empty page with HasMore false, not as an error.
func (c *Client) History(ctx context.Context, chatID, cursor string, limit int) (*HistoryPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("before", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendRequest is the payload for submitting a new message. LocalID is the
// client-generated correlation token the server echoes back on the confirmed
// message and on the push-delivered copy.
type SendRequest struct {
	LocalID     string           `json:"local_id"`
	ReceiverID  string           `json:"receiver_id"`
	ContentType chat.ContentType `json:"content_type"`
	Text        string           `json:"text,omitempty"`
	ReplyTo     string           `json:"reply_to,omitempty"`
	Media       *chat.MediaRef   `json:"media,omitempty"`
}

// Send submits a new message to a chat and returns the server-confirmed
// message carrying its permanent id and initial status.
func (c *Client) Send(ctx context.Context, chatID string, req SendRequest) (*chat.Message, error) {
	var msg chat.Message
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead acknowledges a batch of message ids as read by the local user.
func (c *Client) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	body := struct {
		MessageIDs []string `json:"message_ids"`
	}{MessageIDs: messageIDs}
	path := "/chats/" + url.PathEscape(chatID) + "/read"
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// ClearHistory deletes the entire message history of a chat.
func (c *Client) ClearHistory(ctx context.Context, chatID string) error {
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// React sets the local user's reaction on a message, replacing any previous
// one.
func (c *Client) React(ctx context.Context, chatID, messageID, emoji string) error {
	body := struct {
		Emoji string `json:"emoji"`
	}{Emoji: emoji}
	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// Unreact clears the local user's reaction on a message.
func (c *Client) Unreact(ctx context.Context, chatID, messageID string) error {
	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Upload streams an attachment as multipart form data and returns the media
// reference to attach to the pending message send. progress, if non-nil,
// receives the percentage of bytes written (0-100, monotonic).
func (c *Client) Upload(ctx context.Context, name, mimeType string, size int64, r io.Reader, progress func(pct int)) (*chat.MediaRef, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := r
		if progress != nil && size > 0 {
			src = &progressReader{r: r, total: size, report: progress}
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media", pr)
	if err != nil {
		return nil, fmt.Errorf("rest: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Upload-Mime-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &chat.TransientError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	if err := classify("upload", resp); err != nil {
		return nil, err
	}

	var ref chat.MediaRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, fmt.Errorf("rest: decode upload response: %w", err)
	}
	if progress != nil {
		progress(100)
	}
	return &ref, nil
}

// progressReader reports cumulative read percentage through a callback.
// Percentages never decrease and are capped at 99 until the upload response
// confirms completion.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	lastPct int
	report  func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	pct := int(p.read * 100 / p.total)
	if pct > 99 {
		pct = 99
	}
	if pct > p.lastPct {
		p.lastPct = pct
		p.report(pct)
	}
	return n, err
}

// doJSON performs one request with a JSON body (nil for none) and decodes a
// JSON response into out (nil to discard).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: marshal %s body: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("rest: build %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &chat.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := classify(op, resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("rest: decode %s response: %w", op, err)
		}
	}
	return nil
}

// classify maps a non-2xx response onto the error taxonomy. The body is
// read (bounded) for the server's reason text.
func classify(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reason := strings.TrimSpace(string(body))
	if reason == "" {
		reason = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &chat.TransientError{Op: op, Err: fmt.Errorf("server responded %d: %s", resp.StatusCode, reason)}
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusRequestEntityTooLarge,
		resp.StatusCode == http.StatusUnsupportedMediaType,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return &chat.ValidationError{Field: "request", Reason: reason}
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusGone:
		return &chat.ConflictError{Op: op, Reason: reason}
	default:
		return &chat.PermanentError{Op: op, Err: fmt.Errorf("server responded %d: %s", resp.StatusCode, reason)}
	}
}
