// Package sheets reads the product catalog from a Google Sheets spreadsheet.
//
// The sheet is a header row followed by one row per SKU. An optional first
// row of the form ["schema_version", "1.2.0"] declares the layout version;
// a sheet whose major version differs from the supported one is rejected
// rather than half-parsed.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"storefront/internal/catalog"
	"storefront/internal/model"
	"storefront/internal/retry"
)

// DefaultRange is read when Config.Range is empty.
const DefaultRange = "Products!A1:Z"

// SupportedSchema is the sheet layout version this reader understands.
const SupportedSchema = "v1.0.0"

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 20 * time.Second

// Config selects the spreadsheet and how to authenticate.
type Config struct {
	SpreadsheetID   string
	Range           string
	APIKey          string // public sheets
	CredentialsJSON []byte // service account, takes precedence over APIKey
	Timeout         time.Duration

	// Endpoint and HTTPClient override the Google endpoint, for tests.
	Endpoint   string
	HTTPClient *http.Client
}

// Source implements catalog.Source over the Sheets values API.
type Source struct {
	svc           *gsheets.Service
	spreadsheetID string
	readRange     string
	timeout       time.Duration
}

var _ catalog.Source = (*Source)(nil)

// New creates a sheet-backed product source.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}

	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsReadonlyScope)}
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, fmt.Errorf("sheets API key or service account credentials are required")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	readRange := cfg.Range
	if readRange == "" {
		readRange = DefaultRange
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Source{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		readRange:     readRange,
		timeout:       timeout,
	}, nil
}

// Fetch reads and parses every product row.
// Authentication, permission and missing-sheet failures are marked
// permanent so callers do not retry them.
func (s *Source) Fetch(ctx context.Context) ([]model.RawProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.readRange).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			switch gerr.Code {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, retry.Permanent(model.NewUpstreamError("sheets (access denied)", err))
			case http.StatusNotFound, http.StatusBadRequest:
				return nil, retry.Permanent(model.NewUpstreamError("sheets (bad spreadsheet or range)", err))
			}
		}
		return nil, fmt.Errorf("reading spreadsheet values: %w", err)
	}

	rows, err := ParseRows(resp.Values)
	if err != nil {
		return nil, retry.Permanent(model.NewUpstreamError("sheets", err))
	}
	return rows, nil
}

// ErrIncompatibleSchema is returned for sheets declaring another major layout.
var ErrIncompatibleSchema = errors.New("incompatible sheet schema version")

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("required column missing")

// column names accepted for each field, compared after lower-casing and
// collapsing whitespace.
var headerAliases = map[string][]string{
	"sku":         {"sku", "id", "product id"},
	"name":        {"product name", "name", "productname", "title"},
	"category":    {"category", "type"},
	"format":      {"format", "grind", "variant"},
	"price":       {"price", "retail price"},
	"description": {"description", "desc"},
	"image":       {"image", "image url", "imageurl", "photo"},
	"featured":    {"featured", "is featured"},
	"in_stock":    {"in stock", "instock", "available", "stock"},
}

var requiredFields = []string{"sku", "name", "category", "price"}

// ParseRows converts sheet values into raw products. Rows missing a SKU or
// name, or with an unparseable price, are skipped.
func ParseRows(values [][]interface{}) ([]model.RawProduct, error) {
	if len(values) == 0 {
		return []model.RawProduct{}, nil
	}

	if len(values[0]) >= 2 && strings.EqualFold(cell(values[0], 0), "schema_version") {
		if err := checkSchema(cell(values[0], 1)); err != nil {
			return nil, err
		}
		values = values[1:]
		if len(values) == 0 {
			return []model.RawProduct{}, nil
		}
	}

	fields, extras := mapHeader(values[0])
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, f)
		}
	}

	out := make([]model.RawProduct, 0, len(values)-1)
	for _, row := range values[1:] {
		get := func(field string) string {
			i, ok := fields[field]
			if !ok {
				return ""
			}
			return cell(row, i)
		}

		sku := get("sku")
		name := get("name")
		if sku == "" || name == "" {
			continue
		}
		price, ok := model.ParseCents(get("price"))
		if !ok {
			continue
		}

		p := model.RawProduct{
			SKU:         sku,
			ProductName: name,
			Category:    get("category"),
			Format:      get("format"),
			Price:       price,
			Description: get("description"),
			ImageURL:    get("image"),
			Featured:    parseBool(get("featured"), false),
			InStock:     parseBool(get("in_stock"), true),
		}
		for header, i := range extras {
			if v := cell(row, i); v != "" {
				if p.Attributes == nil {
					p.Attributes = make(map[string]string)
				}
				p.Attributes[header] = v
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func checkSchema(declared string) error {
	v := declared
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a version", ErrIncompatibleSchema, declared)
	}
	if semver.Major(v) != semver.Major(SupportedSchema) {
		return fmt.Errorf("%w: sheet declares %s, reader supports %s", ErrIncompatibleSchema, declared, SupportedSchema)
	}
	return nil
}

// mapHeader returns field → column index for known headers and
// header → column index for the rest.
func mapHeader(header []interface{}) (map[string]int, map[string]int) {
	fields := make(map[string]int)
	extras := make(map[string]int)
	for i := range header {
		h := strings.Join(strings.Fields(strings.ToLower(cell(header, i))), " ")
		if h == "" {
			continue
		}
		matched := false
		for field, aliases := range headerAliases {
			for _, a := range aliases {
				if h == a {
					if _, dup := fields[field]; !dup {
						fields[field] = i
					}
					matched = true
				}
			}
		}
		if !matched {
			extras[strings.ReplaceAll(h, " ", "_")] = i
		}
	}
	return fields, extras
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "y", "1", "x", "✓":
		return true
	case "false", "no", "n", "0":
		return false
	default:
		return def
	}
}
