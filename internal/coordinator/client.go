// Package coordinator is the HTTP client for the remote reward service:
// challenge discovery, registration, solution submission, statistics,
// and donation assignment.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UserAgent is sent on every request; the coordinator's WAF rejects
// clients without one.
const UserAgent = "shadowharvester/1.0"

var (
	// ErrNoActiveChallenge means no challenge is currently biddable.
	ErrNoActiveChallenge = errors.New("no active challenge")

	// ErrAlreadyAccepted means the coordinator already holds a solution
	// for this (address, challenge) pair. Callers treat it as success.
	ErrAlreadyAccepted = errors.New("solution already accepted")

	// ErrAlreadyDonated means a donation target is already configured for
	// the address. Callers treat it as success.
	ErrAlreadyDonated = errors.New("donation already configured")

	// ErrNotRegistered means the coordinator has no statistics for the
	// address, which is a valid "not yet registered" signal.
	ErrNotRegistered = errors.New("address not registered")
)

// NetError wraps a network-layer failure (transport error, timeout, or
// coordinator-side 5xx). The challenge source uses this classification
// to keep mining on last-known-good parameters through API blackouts.
type NetError struct {
	Op  string
	Err error
}

func (e *NetError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *NetError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is a network-layer failure rather
// than an application-level rejection.
func IsNetworkError(err error) bool {
	var ne *NetError
	return errors.As(err, &ne)
}

// Client is the coordinator operation set consumed by the core.
type Client interface {
	ActiveChallenge(ctx context.Context) (*types.ChallengeData, error)
	ActiveChallengeID(ctx context.Context) (string, error)
	ChallengeByID(ctx context.Context, id string) (*types.ChallengeData, error)
	Terms(ctx context.Context) (string, error)
	Register(ctx context.Context, address, message, signatureHex, pubKeyHex string) error
	SubmitSolution(ctx context.Context, sol *types.PendingSolution) (string, error)
	Statistics(ctx context.Context, address string) (*types.Statistics, error)
	WorkRate(ctx context.Context) (types.WorkRate, error)
	Status(ctx context.Context) (*types.ChallengeStatus, error)
	Donate(ctx context.Context, from, to, signatureHex string) (string, error)
}

// HTTPClient implements Client over the coordinator's JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient creates a client for the coordinator at baseURL. Polling
// is rate-limited client-side so the four mining modes and the drainer
// together cannot hammer the API.
func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		logger:  logger,
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &NetError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, &NetError{Op: op, Err: err}
	}

	if resp.StatusCode >= 500 {
		return resp.StatusCode, &NetError{Op: op, Err: fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, truncate(data))}
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("%s: coordinator returned %d: %s", op, resp.StatusCode, truncate(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// challengeEnvelope is the wire form of a challenge; the dataset blob is
// fetched separately.
type challengeEnvelope struct {
	ChallengeID      string `json:"challenge_id"`
	Day              int    `json:"day"`
	LatestSubmission string `json:"latest_submission"`
	Difficulty       string `json:"difficulty"`
}

func (c *HTTPClient) ActiveChallenge(ctx context.Context) (*types.ChallengeData, error) {
	var env challengeEnvelope
	status, err := c.do(ctx, "active challenge", http.MethodGet, "/api/challenge/active", nil, &env)
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, ErrNoActiveChallenge
	}
	if err != nil {
		return nil, err
	}
	if env.ChallengeID == "" {
		return nil, ErrNoActiveChallenge
	}
	return c.withDataset(ctx, &env)
}

// ActiveChallengeID fetches only the active challenge's id, skipping
// the dataset download. Used for rotation probes.
func (c *HTTPClient) ActiveChallengeID(ctx context.Context) (string, error) {
	var env challengeEnvelope
	status, err := c.do(ctx, "active challenge id", http.MethodGet, "/api/challenge/active", nil, &env)
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return "", ErrNoActiveChallenge
	}
	if err != nil {
		return "", err
	}
	if env.ChallengeID == "" {
		return "", ErrNoActiveChallenge
	}
	return env.ChallengeID, nil
}

func (c *HTTPClient) ChallengeByID(ctx context.Context, id string) (*types.ChallengeData, error) {
	var env challengeEnvelope
	if _, err := c.do(ctx, "challenge by id", http.MethodGet, "/api/challenge/"+id, nil, &env); err != nil {
		return nil, err
	}
	return c.withDataset(ctx, &env)
}

// withDataset downloads the challenge dataset and assembles the full
// ChallengeData. Datasets can be gigabyte-scale, so the blob is read in
// one streamed pass and handed out as a single shared reference.
func (c *HTTPClient) withDataset(ctx context.Context, env *challengeEnvelope) (*types.ChallengeData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/challenge/"+env.ChallengeID+"/dataset", nil)
	if err != nil {
		return nil, fmt.Errorf("dataset: build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetError{Op: "dataset", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NetError{Op: "dataset", Err: fmt.Errorf("coordinator returned %d", resp.StatusCode)}
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetError{Op: "dataset", Err: err}
	}

	c.logger.Debug("downloaded challenge dataset",
		zap.String("challenge_id", env.ChallengeID),
		zap.Int("bytes", len(blob)),
	)

	return &types.ChallengeData{
		ChallengeID:      env.ChallengeID,
		Day:              env.Day,
		LatestSubmission: env.LatestSubmission,
		Difficulty:       env.Difficulty,
		Dataset:          types.NewDataset(blob),
	}, nil
}

func (c *HTTPClient) Terms(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if _, err := c.do(ctx, "terms", http.MethodGet, "/api/terms", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *HTTPClient) Register(ctx context.Context, address, message, signatureHex, pubKeyHex string) error {
	body := map[string]string{
		"address":   address,
		"message":   message,
		"signature": signatureHex,
		"pub_key":   pubKeyHex,
	}
	status, err := c.do(ctx, "register", http.MethodPost, "/api/register", body, nil)
	if status == http.StatusConflict {
		// Repeat registration for an already-registered address.
		return nil
	}
	return err
}

func (c *HTTPClient) SubmitSolution(ctx context.Context, sol *types.PendingSolution) (string, error) {
	body := map[string]any{
		"address":      sol.Address,
		"challenge_id": sol.ChallengeID,
		"nonce":        sol.Nonce,
		"hash":         sol.HashHex,
	}
	var out struct {
		SubmissionID string `json:"submission_id"`
	}
	status, err := c.do(ctx, "submit solution", http.MethodPost, "/api/solution", body, &out)
	if status == http.StatusConflict {
		return "", ErrAlreadyAccepted
	}
	if err != nil {
		return "", err
	}
	return out.SubmissionID, nil
}

func (c *HTTPClient) Statistics(ctx context.Context, address string) (*types.Statistics, error) {
	var out types.Statistics
	status, err := c.do(ctx, "statistics", http.MethodGet, "/api/statistics/"+address, nil, &out)
	if status == http.StatusNotFound {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) WorkRate(ctx context.Context) (types.WorkRate, error) {
	var out struct {
		Rates []int64 `json:"work_to_star_rate"`
	}
	if _, err := c.do(ctx, "work rate", http.MethodGet, "/api/work-rate", nil, &out); err != nil {
		return nil, err
	}
	return types.WorkRate(out.Rates), nil
}

func (c *HTTPClient) Status(ctx context.Context) (*types.ChallengeStatus, error) {
	var out types.ChallengeStatus
	if _, err := c.do(ctx, "challenge status", http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DonationMessage is the canonical text an identity signs to assign its
// accumulated rewards to another address. The coordinator verifies the
// signature against exactly this wording.
func DonationMessage(to string) string {
	return fmt.Sprintf("Assign accumulated rewards to %s", to)
}

func (c *HTTPClient) Donate(ctx context.Context, from, to, signatureHex string) (string, error) {
	body := map[string]string{
		"from_address": from,
		"to_address":   to,
		"signature":    signatureHex,
	}
	var out struct {
		DonationID string `json:"donation_id"`
	}
	status, err := c.do(ctx, "donate", http.MethodPost, "/api/donate", body, &out)
	if status == http.StatusConflict {
		return "", ErrAlreadyDonated
	}
	if err != nil {
		return "", err
	}
	return out.DonationID, nil
}
