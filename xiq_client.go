package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const maxErrorBody = 2048

// XIQClient talks to the ExtremeCloud IQ REST API. It is the remote user
// source and the mutation gateway of a run.
type XIQClient struct {
	cfg   XIQConfig
	http  *http.Client
	log   *zap.Logger
	token string
}

func NewXIQClient(log *zap.Logger, cfg XIQConfig, httpClient *http.Client) *XIQClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &XIQClient{
		cfg:  cfg,
		http: httpClient,
		log:  log.Named("xiq"),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate uses the configured API token, or logs in with username and
// password when no token is set.
func (c *XIQClient) Authenticate(ctx context.Context) error {
	if c.cfg.Token != "" {
		c.token = c.cfg.Token
		return nil
	}

	const op = "get access token"

	status, body, err := c.do(ctx, http.MethodPost, "/login", loginRequest{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
	})
	if err != nil {
		return &RemoteSourceError{Op: op, Err: err}
	}

	if status != http.StatusOK {
		return &RemoteSourceError{Op: op, Status: status, Body: trimBody(body)}
	}

	var resp loginResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return &UnexpectedError{Op: op, Err: fmt.Errorf("decode login response: %w", err)}
	}

	if resp.AccessToken == "" {
		return &UnexpectedError{Op: op, Err: errors.New("response has no access_token")}
	}

	c.token = resp.AccessToken
	c.log.Info("logged in")

	return nil
}

// do sends one request and returns the status and the response body. err is
// set only when no response was received.
func (c *XIQClient) do(ctx context.Context, method, path string, payload any) (int, string, error) {
	var reqBody io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, "", fmt.Errorf("encode request: %w", err)
		}

		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}

	c.log.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return resp.StatusCode, string(data), nil
}

func trimBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > maxErrorBody {
		return body[:maxErrorBody] + "..."
	}

	return body
}
