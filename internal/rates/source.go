package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrRateMissing is returned when the daily document has no USD entry.
var ErrRateMissing = errors.New("USD rate not found in response")

// HTTPSource reads the USD rate from the central bank daily JSON document.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source for the given daily JSON URL
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type dailyDocument struct {
	Valute map[string]struct {
		Value json.RawMessage `json:"Value"`
	} `json:"Valute"`
}

// FetchRate implements Source.
func (s *HTTPSource) FetchRate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var doc dailyDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return 0, fmt.Errorf("failed to decode rates: %w", err)
	}

	usd, ok := doc.Valute["USD"]
	if !ok || len(usd.Value) == 0 || string(usd.Value) == "null" {
		return 0, ErrRateMissing
	}

	return ParseRate(string(usd.Value))
}
