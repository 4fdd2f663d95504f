// Package api is the request/response collaborator of the chat engine: it fetches
// conversations, friends and message history from the backend's REST surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"ledger-chat/internal/models"
)

var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == fasthttp.StatusUnauthorized
}

// dataEnvelope is the {"data": ...} wrapper every backend response uses.
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *fasthttp.Client
	log     *zap.Logger
}

// NewClient builds a client for baseURL, e.g. http://localhost:3001/api.
func NewClient(baseURL, token string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: 15 * time.Second,
		http: &fasthttp.Client{
			Name:                "ledgerchat",
			ReadTimeout:         15 * time.Second,
			WriteTimeout:        15 * time.Second,
			MaxIdleConnDuration: time.Minute,
		},
		log: log.Named("api"),
	}
}

// SetToken replaces the bearer credential used for later requests.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out dataEnvelope[[]models.Conversation]
	if err := c.do(ctx, fasthttp.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) ListFriends(ctx context.Context) ([]models.Friend, error) {
	var out dataEnvelope[[]models.Friend]
	if err := c.do(ctx, fasthttp.MethodGet, "/friends", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateDirectConversation returns the direct conversation with participantID,
// creating it on the backend if needed.
func (c *Client) CreateDirectConversation(ctx context.Context, participantID string) (models.Conversation, error) {
	var out dataEnvelope[models.Conversation]
	req := models.CreateDirectRequest{ParticipantID: participantID}
	if err := c.do(ctx, fasthttp.MethodPost, "/conversations/direct", req, &out); err != nil {
		return models.Conversation{}, err
	}
	return out.Data, nil
}

// GetMessages fetches one page of history, oldest first.
func (c *Client) GetMessages(ctx context.Context, conversationID string, page, limit int) (models.MessagePage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out models.MessagePage
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return models.MessagePage{}, err
	}
	return out, nil
}

// Login exchanges credentials for a token. The token is kept for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (models.AuthResponse, error) {
	var out dataEnvelope[models.AuthResponse]
	req := models.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, fasthttp.MethodPost, "/login", req, &out); err != nil {
		return models.AuthResponse{}, err
	}
	c.token = out.Data.Token
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if c.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.token)
	}
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(data)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		c.log.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		var eb errorBody
		_ = sonic.Unmarshal(resp.Body(), &eb)
		msg := eb.Error
		if msg == "" {
			msg = eb.Message
		}
		c.log.Warn("request rejected", zap.String("method", method), zap.String("path", path), zap.Int("status", status))
		return &StatusError{StatusCode: status, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
