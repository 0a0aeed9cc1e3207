package playtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// userIDHeader identifies the caller to the server.
const userIDHeader = "X-User-ID"

// statusError carries an unexpected HTTP status.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// client is a thin JSON client for the game API.
type client struct {
	http    *http.Client
	baseURL string
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{http: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

// do sends a request as callerID and decodes a 2xx body into out.
func (c *client) do(ctx context.Context, method, path, callerID string, body, out any) error {
	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if callerID != "" {
		req.Header.Set(userIDHeader, callerID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

func (c *client) createUser(ctx context.Context, username, role string) (user, error) {
	var u user
	err := c.do(ctx, http.MethodPost, "/users", "", map[string]string{"username": username, "role": role}, &u)
	return u, err
}

func (c *client) getUser(ctx context.Context, id string) (user, error) {
	var u user
	err := c.do(ctx, http.MethodGet, "/users/"+id, "", nil, &u)
	return u, err
}

func (c *client) createSample(ctx context.Context, actorID, name, description string, canonical float64) (sample, error) {
	var s sample
	err := c.do(ctx, http.MethodPost, "/samples", actorID, map[string]any{
		"name":             name,
		"description":      description,
		"canonical_rating": canonical,
	}, &s)
	return s, err
}

func (c *client) submit(ctx context.Context, userID, sampleID string, value float64) (submitResult, error) {
	var res submitResult
	err := c.do(ctx, http.MethodPost, "/samples/"+sampleID+"/ratings", userID,
		map[string]string{"value": strconv.FormatFloat(value, 'f', -1, 64)}, &res)
	return res, err
}

func (c *client) userRatings(ctx context.Context, id string) ([]rating, error) {
	var rs []rating
	err := c.do(ctx, http.MethodGet, "/users/"+id+"/ratings", id, nil, &rs)
	return rs, err
}

func (c *client) leaderboard(ctx context.Context, callerID string, limit int) (leaderboard, error) {
	var lb leaderboard
	err := c.do(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(limit), callerID, nil, &lb)
	return lb, err
}

func (c *client) rank(ctx context.Context, id string) (entry, error) {
	var e entry
	err := c.do(ctx, http.MethodGet, "/rank/"+id, "", nil, &e)
	return e, err
}
