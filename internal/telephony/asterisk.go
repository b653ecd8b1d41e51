package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Rules:
// - No switch API calls outside telephony adapters.
// - Keep request/response types switch-agnostic; business logic sees only
//   seconds and errors.

var (
	ErrCallNotFound = errors.New("telephony: call not found on switch")
	ErrUnavailable  = errors.New("telephony: switch unavailable")
)

// AsteriskClient drives a call through the Asterisk REST Interface (ARI).
// It satisfies the billing monitor's control-plane contract.
type AsteriskClient struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
}

func NewAsteriskClient(baseURL, username, password string, timeout time.Duration) *AsteriskClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsteriskClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpc:    &http.Client{Timeout: timeout},
	}
}

// ElapsedSeconds reads the channel's answered duration via the CDR billsec
// variable. The caller decides what to do with a transient failure; this
// adapter only classifies it.
func (c *AsteriskClient) ElapsedSeconds(ctx context.Context, callID string) (int, error) {
	u := fmt.Sprintf("%s/ari/channels/%s/variable?variable=%s",
		c.baseURL, url.PathEscape(callID), url.QueryEscape("CDR(billsec)"))

	var out struct {
		Value string `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, u, &out); err != nil {
		return 0, err
	}

	secs, err := strconv.Atoi(strings.TrimSpace(out.Value))
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("telephony: bad billsec value %q", out.Value)
	}
	return secs, nil
}

// Terminate hangs up the channel. A channel that is already gone counts as
// terminated.
func (c *AsteriskClient) Terminate(ctx context.Context, callID string) error {
	u := fmt.Sprintf("%s/ari/channels/%s?reason=normal", c.baseURL, url.PathEscape(callID))
	err := c.do(ctx, http.MethodDelete, u, nil)
	if errors.Is(err, ErrCallNotFound) {
		return nil
	}
	return err
}

func (c *AsteriskClient) do(ctx context.Context, method, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCallNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telephony: ari status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("telephony: decode ari response: %w", err)
	}
	return nil
}
