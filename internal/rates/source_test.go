package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_FetchRate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    float64
		wantErr error
	}{
		{
			name:   "numeric value",
			status: http.StatusOK,
			body:   `{"Date":"2025-03-05T11:30:00+03:00","Valute":{"USD":{"CharCode":"USD","Value":89.9914},"EUR":{"Value":97.1}}}`,
			want:   89.9914,
		},
		{
			name:   "comma separated string",
			status: http.StatusOK,
			body:   `{"Valute":{"USD":{"Value":"90,15"}}}`,
			want:   90.15,
		},
		{
			name:    "missing USD",
			status:  http.StatusOK,
			body:    `{"Valute":{"EUR":{"Value":97.1}}}`,
			wantErr: ErrRateMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			src := NewHTTPSource(srv.URL, time.Second)
			got, err := src.FetchRate(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, time.Second).FetchRate(context.Background())
	assert.Error(t, err)
}

func TestHTTPSource_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, 20*time.Millisecond).FetchRate(context.Background())
	assert.Error(t, err)
}
