package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/model"
	"storefront/internal/retry"
)

func sheetValues() [][]interface{} {
	return [][]interface{}{
		{"SKU", "Product Name", "Category", "Format", "Price", "Featured", "In Stock", "Origin", "Roast Level"},
		{"A1", "House Blend", "Coffee", "whole-bean", "$14.00", "yes", "", "Brazil", "Medium"},
		{"A2", "house blend", "coffee", "ground", "14", "", "no"},
		{"", "Orphan Row", "Coffee", "ground", "10"},
		{"B1", "Bad Price", "Coffee", "ground", "call us"},
	}
}

func TestParseRows(t *testing.T) {
	rows, err := ParseRows(sheetValues())
	require.NoError(t, err)
	require.Len(t, rows, 2, "rows without SKU or with bad price are skipped")

	first := rows[0]
	assert.Equal(t, "A1", first.SKU)
	assert.Equal(t, "House Blend", first.ProductName)
	assert.Equal(t, "Coffee", first.Category)
	assert.Equal(t, "whole-bean", first.Format)
	assert.Equal(t, int64(1400), first.Price)
	assert.True(t, first.Featured)
	assert.True(t, first.InStock, "blank in-stock defaults to true")
	assert.Equal(t, map[string]string{"origin": "Brazil", "roast_level": "Medium"}, first.Attributes)

	second := rows[1]
	assert.False(t, second.Featured)
	assert.False(t, second.InStock)
	assert.Nil(t, second.Attributes, "short rows leave extras unset")
}

func TestParseRowsSchemaVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"same major", "1.4.2", false},
		{"with v prefix", "v1.0.0", false},
		{"major only", "1", false},
		{"newer major", "2.0.0", true},
		{"garbage", "latest", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := append([][]interface{}{{"schema_version", tt.version}}, sheetValues()...)
			rows, err := ParseRows(values)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrIncompatibleSchema)
				return
			}
			require.NoError(t, err)
			assert.Len(t, rows, 2)
		})
	}
}

func TestParseRowsMissingColumn(t *testing.T) {
	_, err := ParseRows([][]interface{}{{"SKU", "Name", "Format"}})
	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "category")
}

func TestParseRowsEmpty(t *testing.T) {
	rows, err := ParseRows(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	src, err := New(context.Background(), Config{
		SpreadsheetID: "sheet-123",
		Endpoint:      srv.URL + "/",
		HTTPClient:    srv.Client(),
	})
	require.NoError(t, err)
	return src
}

func TestFetch(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/v4/spreadsheets/sheet-123/values/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"range":          DefaultRange,
			"majorDimension": "ROWS",
			"values":         sheetValues(),
		})
	})

	rows, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestFetchAccessDeniedIsPermanent(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`))
	})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.ErrorIs(t, err, model.ErrUpstreamError)
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "x"})
	require.Error(t, err)

	_, err = New(context.Background(), Config{APIKey: "k"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMissingColumn))
}
