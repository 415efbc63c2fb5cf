// Package source talks to the upstream gift code and player endpoints.
// It is the only package that knows the wire shape of the remote API;
// everything downstream works with [model.Observation] and [PlayerInfo].
package source

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/magnusk/alliancevault/internal/backoff"
	"github.com/magnusk/alliancevault/internal/model"
)

const (
	requestTimeout = 20 * time.Second

	// codePlayerNotFound is the upstream err_code for an unknown player ID.
	codePlayerNotFound = 40004
)

// ErrPlayerNotFound is returned by [Client.Player] when the upstream has no
// record of the requested ID.
var ErrPlayerNotFound = errors.New("player not found")

// APIError is a non-success status carried inside an HTTP 200 response body.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API error %d: %s", e.Code, e.Msg)
}

// PlayerInfo is the upstream player record, used for member stat refresh.
type PlayerInfo struct {
	ID           int64
	Nickname     string
	State        int
	FurnaceLevel int
	FurnaceIcon  string
	AvatarURL    string
}

// Client fetches gift code snapshots and player records from the upstream
// API. All requests pass through a shared limiter; the upstream endpoint
// rejects bursts.
type Client struct {
	codesURL  string
	playerURL string
	secret    string
	hc        *http.Client
	limiter   *rate.Limiter
	log       *slog.Logger
}

// NewClient creates a Client for the given endpoints. secret signs player
// lookups.
func NewClient(codesURL, playerURL, secret string, logger *slog.Logger) *Client {
	return &Client{
		codesURL:  codesURL,
		playerURL: playerURL,
		secret:    secret,
		hc:        &http.Client{Timeout: requestTimeout},
		limiter:   rate.NewLimiter(rate.Every(time.Second), 6),
		log:       logger,
	}
}

// codeEntry is the upstream shape of one snapshot element. Unknown fields
// (reward text and the like) are ignored.
type codeEntry struct {
	Code   string `json:"code"`
	Date   string `json:"date"`
	Status string `json:"status"`
}

// Fetch retrieves the current remote code snapshot. Entries arrive
// unordered and unnormalized; the reconciler owns cleanup.
func (c *Client) Fetch(ctx context.Context) ([]model.Observation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var entries []codeEntry
	err := backoff.Retry(ctx, backoff.DefaultMaxAttempts, func() error {
		var attempt []codeEntry
		if err := c.getJSON(ctx, c.codesURL, &attempt); err != nil {
			return err
		}
		entries = attempt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching code list: %w", err)
	}

	obs := make([]model.Observation, 0, len(entries))
	for _, e := range entries {
		obs = append(obs, model.Observation{
			Code:    e.Code,
			Date:    e.Date,
			Verdict: verdictFor(e.Status),
		})
	}
	c.log.Debug("fetched remote code snapshot", "entries", len(obs))
	return obs, nil
}

// verdictFor maps upstream status strings onto the local state machine.
// Unknown strings carry no signal.
func verdictFor(status string) model.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "valid", "active":
		return model.StatusValid
	case "invalid", "expired":
		return model.StatusInvalid
	case "redeemed":
		return model.StatusRedeemed
	default:
		return ""
	}
}

type playerResponse struct {
	Code    int        `json:"code"`
	ErrCode int        `json:"err_code"`
	Msg     string     `json:"msg"`
	Data    playerData `json:"data"`
}

type playerData struct {
	Nickname     string `json:"nickname"`
	State        int    `json:"kid"`
	FurnaceLevel int    `json:"stove_lv"`
	FurnaceIcon  string `json:"stove_lv_content"`
	AvatarURL    string `json:"avatar_image"`
}

// Player fetches the upstream record for one player ID. The request is
// signed: the form is "fid=<id>&time=<millis>" and the signature is the
// MD5 hex digest of the form concatenated with the shared secret.
//
// Transport failures are retried; API-level rejections inside an HTTP 200
// body are not.
func (c *Client) Player(ctx context.Context, id int64) (*PlayerInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var pr playerResponse
	err := backoff.Retry(ctx, backoff.DefaultMaxAttempts, func() error {
		var attempt playerResponse
		if err := c.postSigned(ctx, id, &attempt); err != nil {
			return err
		}
		pr = attempt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("looking up player %d: %w", id, err)
	}

	if pr.Code != 0 {
		if pr.ErrCode == codePlayerNotFound {
			return nil, fmt.Errorf("player %d: %w", id, ErrPlayerNotFound)
		}
		apiErr := &APIError{Code: pr.ErrCode, Msg: pr.Msg}
		if apiErr.Code == 0 {
			apiErr.Code = pr.Code
		}
		return nil, apiErr
	}

	return &PlayerInfo{
		ID:           id,
		Nickname:     pr.Data.Nickname,
		State:        pr.Data.State,
		FurnaceLevel: pr.Data.FurnaceLevel,
		FurnaceIcon:  pr.Data.FurnaceIcon,
		AvatarURL:    pr.Data.AvatarURL,
	}, nil
}

// getJSON GETs rawURL and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// postSigned POSTs a signed form for the given player ID and decodes the
// response body into out.
func (c *Client) postSigned(ctx context.Context, id int64, out *playerResponse) error {
	form := fmt.Sprintf("fid=%d&time=%d", id, time.Now().UnixMilli())
	payload := "sign=" + signForm(form, c.secret) + "&" + form

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.playerURL, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if origin := originOf(c.playerURL); origin != "" {
		req.Header.Set("Origin", origin)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// signForm returns the MD5 hex digest of form + secret, the signature
// scheme the upstream verifies.
func signForm(form, secret string) string {
	sum := md5.Sum([]byte(form + secret)) //nolint:gosec // upstream signature scheme requires MD5
	return hex.EncodeToString(sum[:])
}

// originOf derives the Origin header value from the endpoint URL. The
// upstream rejects cross-origin posts without it.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
