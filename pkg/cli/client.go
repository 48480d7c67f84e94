package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// apiError mirrors the gateway's error body.
type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// callAPI sends a JSON request to the gateway and decodes the JSON reply into out.
func callAPI(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(data, &e) == nil {
			msg := e.Message
			if msg == "" {
				msg = e.Error
			}
			if f := e.Details["field"]; f != "" {
				msg = fmt.Sprintf("%s (field %s)", msg, f)
			}
			if msg != "" {
				return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, msg)
			}
		}
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
