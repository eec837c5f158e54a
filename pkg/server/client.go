package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
)

// Clear asks the server at baseURL to drop its graph.
func Clear(ctx context.Context, baseURL string) error {
	url := strings.TrimRight(baseURL, "/") + "/clear"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return lferrors.Invalid("server", baseURL, err.Error())
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeUnknown, "server unreachable").WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		msg := fmt.Sprintf("clear failed: %s", resp.Status)
		if body.Error != "" {
			msg += ": " + body.Error
		}
		return lferrors.New(lferrors.CodeUnknown, msg).WithContext("url", url)
	}
	return nil
}
