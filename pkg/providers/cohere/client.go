package cohere

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.cohere.ai"

type client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func newClient(apiKey, baseURL string) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
}

// streamChat posts one v2 chat request and returns a channel of parsed SSE
// events. Malformed lines are skipped without ending the stream.
func (c *client) streamChat(ctx context.Context, req *chatRequest) (<-chan streamEvent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/chat", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		respBody, _ := io.ReadAll(resp.Body)
		var detail struct {
			Message string `json:"message"`
		}
		if unmarshalErr := json.Unmarshal(respBody, &detail); unmarshalErr == nil && detail.Message != "" {
			return nil, errors.New(detail.Message)
		}
		return nil, errors.Errorf("cohere API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	events := make(chan streamEvent)
	go func() {
		defer close(events)
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("unexpected error reading cohere stream")
				}
				return
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
			if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal(data, &event); err != nil {
				log.Debug().Err(err).Msg("skipping malformed cohere chunk")
				continue
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
