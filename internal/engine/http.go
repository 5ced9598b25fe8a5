package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/model"
	"github.com/billscan/billscan/internal/resilience"
)

// HTTPEngine calls a remote recognition service over JSON.
type HTTPEngine struct {
	endpoint string
	apiKey   string
	client   *http.Client
	retry    resilience.RetryConfig
}

// NewHTTP creates an HTTPEngine. A zero timeout defaults to 30s.
func NewHTTP(endpoint, apiKey string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEngine{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		retry:    resilience.DefaultRetryConfig(),
	}
}

type httpRequest struct {
	Image    string      `json:"image"`
	Mode     string      `json:"mode"`
	DPI      int         `json:"dpi"`
	Language string      `json:"language"`
	Region   *httpRegion `json:"region,omitempty"`
}

type httpRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type httpToken struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

type httpResponse struct {
	Tokens     []httpToken `json:"tokens"`
	Confidence float64     `json:"confidence"`
}

// Recognize sends the image to the remote service and maps the response to
// tokens. Transient HTTP failures are retried with backoff.
func (e *HTTPEngine) Recognize(ctx context.Context, req Request) (*Result, error) {
	body := httpRequest{
		Image:    base64.StdEncoding.EncodeToString(req.Image),
		Mode:     req.Profile.Mode,
		DPI:      req.Profile.DPI,
		Language: req.Profile.Language,
	}
	if req.Region.Width > 0 && req.Region.Height > 0 {
		body.Region = &httpRegion{
			X:      req.Region.X,
			Y:      req.Region.Y,
			Width:  req.Region.Width,
			Height: req.Region.Height,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "engine: marshal request")
	}

	var resp httpResponse
	err = resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
		if reqErr != nil {
			return eris.Wrap(reqErr, "engine: create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		httpResp, doErr := e.client.Do(httpReq)
		if doErr != nil {
			return eris.Wrap(doErr, "engine: request failed")
		}
		defer httpResp.Body.Close()

		if resilience.IsTransientHTTPStatus(httpResp.StatusCode) {
			io.Copy(io.Discard, httpResp.Body)
			return resilience.NewTransientError(eris.Errorf("engine: status %d", httpResp.StatusCode), httpResp.StatusCode)
		}
		if httpResp.StatusCode != http.StatusOK {
			return eris.Errorf("engine: status %d", httpResp.StatusCode)
		}
		return json.NewDecoder(httpResp.Body).Decode(&resp)
	})
	if err != nil {
		return nil, err
	}

	tokens := make([]model.Token, 0, len(resp.Tokens))
	for _, t := range resp.Tokens {
		bounds := model.BBox{X: t.X, Y: t.Y, Width: t.Width, Height: t.Height}
		// Services that ignore the region hint still return full-page tokens,
		// so the region is enforced on this side too.
		if body.Region != nil {
			cx, cy := bounds.Center()
			if !req.Region.Contains(cx, cy) {
				continue
			}
		}
		tokens = append(tokens, model.Token{
			Text:       t.Text,
			Bounds:     bounds,
			Confidence: t.Confidence,
		})
	}
	return &Result{Tokens: tokens, EngineConfidence: resp.Confidence}, nil
}
