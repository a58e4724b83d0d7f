package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Gateway request headers.
const (
	HeaderAppContext = "x-sfdc-app-context"
	HeaderFeatureID  = "x-client-feature-id"

	appContext = "EinsteinGPT"
	featureID  = "ai-platform-models-connected-app"
)

// maxResponseBytes bounds the gateway response body.
const maxResponseBytes = 1 << 20

// Client calls the generation endpoint with a bearer token.
type Client struct {
	apiURL     string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a completion client.
func NewClient(apiURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{apiURL: apiURL, tokens: tokens, httpClient: httpClient}
}

type generationRequest struct {
	Prompt string `json:"prompt"`
}

type generationResponse struct {
	Generation *struct {
		GeneratedText *string `json:"generatedText"`
	} `json:"generation"`
}

// Complete implements Completer. The returned text is whitespace-trimmed.
// A 401 forces one token refresh and retry.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	status, body, err := c.post(ctx, tok, prompt)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		if tok, err = c.tokens.Refresh(ctx); err != nil {
			return "", err
		}
		if status, body, err = c.post(ctx, tok, prompt); err != nil {
			return "", err
		}
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("%w: generation endpoint returned %d", domain.ErrUpstreamUnavailable, status)
	}

	var resp generationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedUpstreamResponse, err)
	}
	if resp.Generation == nil || resp.Generation.GeneratedText == nil {
		return "", fmt.Errorf("%w: missing generation.generatedText", domain.ErrMalformedUpstreamResponse)
	}
	return strings.TrimSpace(*resp.Generation.GeneratedText), nil
}

func (c *Client) post(ctx context.Context, tok, prompt string) (int, []byte, error) {
	payload, err := json.Marshal(generationRequest{Prompt: prompt})
	if err != nil {
		return 0, nil, fmt.Errorf("encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAppContext, appContext)
	req.Header.Set(HeaderFeatureID, featureID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", domain.ErrUpstreamUnavailable, err)
	}
	return resp.StatusCode, body, nil
}
