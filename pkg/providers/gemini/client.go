package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

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

// streamGenerateContent posts one request with alt=sse and returns a channel
// of parsed chunks. Each SSE event is a single data: line holding one JSON
// chunk; malformed lines are skipped.
func (c *client) streamGenerateContent(ctx context.Context, model string, req *generateRequest) (<-chan streamChunk, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		respBody, _ := io.ReadAll(resp.Body)
		var errChunk streamChunk
		if unmarshalErr := json.Unmarshal(respBody, &errChunk); unmarshalErr == nil && errChunk.Error != nil {
			return nil, errors.New(errChunk.Error.Message)
		}
		// error bodies may also arrive as a JSON array of chunks
		var errChunks []streamChunk
		if unmarshalErr := json.Unmarshal(respBody, &errChunks); unmarshalErr == nil &&
			len(errChunks) > 0 && errChunks[0].Error != nil {
			return nil, errors.New(errChunks[0].Error.Message)
		}
		return nil, errors.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	chunks := make(chan streamChunk)
	go func() {
		defer close(chunks)
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("unexpected error reading gemini stream")
				}
				return
			}

			data, ok := parseDataLine(line)
			if !ok {
				continue
			}

			var chunk streamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				log.Debug().Err(err).Msg("skipping malformed gemini chunk")
				continue
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

func parseDataLine(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}
