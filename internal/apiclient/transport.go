package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"go.uber.org/zap"
)

const maxErrorBodyBytes = 64 << 10

// tokenSource returns the bearer token to attach, or "" for anonymous calls.
type tokenSource func() string

type transport struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      tokenSource
	logger     *zap.Logger
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        any
	rawBody     []byte
	contentType string
	bearer      string
	anonymous   bool
}

type errorPayload struct {
	Error string `json:"error"`
}

// endpoint resolves an already escaped path against the base URL.
func (t *transport) endpoint(escapedPath string, query url.Values) string {
	target := *t.baseURL
	basePath := strings.TrimRight(t.baseURL.EscapedPath(), "/")
	target.RawPath = basePath + escapedPath
	if unescaped, err := url.PathUnescape(target.RawPath); err == nil {
		target.Path = unescaped
	} else {
		target.Path = target.RawPath
	}
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

// do sends the request and decodes a JSON response into out when out is non-nil.
func (t *transport) do(ctx context.Context, req request, out any) error {
	var body io.Reader = http.NoBody
	contentType := req.contentType
	switch {
	case req.rawBody != nil:
		body = bytes.NewReader(req.rawBody)
	case req.body != nil:
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", req.method, req.path, err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	httpRequest, err := http.NewRequestWithContext(ctx, req.method, t.endpoint(req.path, req.query), body)
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	switch {
	case req.bearer != "":
		httpRequest.Header.Set("Authorization", "Bearer "+req.bearer)
	case !req.anonymous && t.token != nil:
		if token := t.token(); token != "" {
			httpRequest.Header.Set("Authorization", "Bearer "+token)
		}
	}

	response, err := t.httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", backend.ErrUnavailable, req.method, req.path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		var payload errorPayload
		raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		_ = json.Unmarshal(raw, &payload)
		apiErr := backend.NewAPIError(response.StatusCode, payload.Error)
		t.logger.Debug("backend request failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", response.StatusCode),
			zap.String("code", payload.Error),
		)
		return apiErr
	}

	if out == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty response from %s %s", backend.ErrMalformedRow, req.method, req.path)
		}
		return fmt.Errorf("%w: decoding %s %s: %v", backend.ErrMalformedRow, req.method, req.path, err)
	}
	return nil
}
