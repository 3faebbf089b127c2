package api

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

const defaultBaseURL = "https://api.anthropic.com"
const defaultAPIVersion = "2023-06-01"

// Client talks to the Anthropic Messages API.
type Client struct {
	apiKey     string
	BaseURL    string
	APIVersion string
	httpClient *http.Client
}

func NewClient(apiKey string, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIVersion: defaultAPIVersion,
		httpClient: http.DefaultClient,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.APIVersion)
}

// StreamMessage posts one Messages request and returns a channel of parsed
// SSE events. An HTTP status at or above 400 is returned as an error built
// from the response body; the stream never starts in that case.
func (c *Client) StreamMessage(ctx context.Context, req *MessageRequest) (<-chan StreamingEvent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		respBody, _ := io.ReadAll(resp.Body)
		var errorResp ErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errorResp); unmarshalErr != nil || errorResp.Error.Message == "" {
			return nil, errors.Errorf("claude API error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return nil, errors.New(errorResp.Error.Message)
	}

	events := make(chan StreamingEvent)
	go streamEvents(ctx, resp, events)
	return events, nil
}

// streamEvents reads blank-line delimited SSE events off the response body
// and sends each parsed event on the channel. A malformed event is skipped;
// one bad line never aborts the stream.
func streamEvents(ctx context.Context, resp *http.Response, events chan<- StreamingEvent) {
	defer close(events)
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	reader := bufio.NewReader(resp.Body)
	var eventLines [][]byte
	eventCount := 0
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("unexpected error reading streaming response")
			}
			log.Debug().Int("total_events", eventCount).Msg("streaming reader finished")
			return
		}
		if len(bytes.TrimSpace(line)) > 0 {
			eventLines = append(eventLines, line)
			continue
		}

		// blank line ends the event
		var event StreamingEvent
		if parseErr := parseSSEEvent(eventLines, &event); parseErr != nil {
			log.Debug().Err(parseErr).Msg("skipping malformed SSE event")
			eventLines = eventLines[:0]
			continue
		}
		eventLines = eventLines[:0]
		eventCount++

		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// parseSSEEvent assembles the data fields of one SSE event and unmarshals
// the JSON payload.
func parseSSEEvent(lines [][]byte, event *StreamingEvent) error {
	eventData := ""
	for _, line := range lines {
		line = bytes.TrimSuffix(line, []byte("\n"))
		parts := bytes.SplitN(line, []byte(": "), 2)
		if len(parts) != 2 {
			continue
		}
		if string(parts[0]) == "data" {
			eventData += string(parts[1]) + "\n"
		}
	}
	eventData = strings.TrimSuffix(eventData, "\n")
	if eventData == "" {
		return errors.New("no data field in SSE event")
	}
	return json.Unmarshal([]byte(eventData), event)
}
