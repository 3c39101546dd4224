package ocr

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
	"time"
)

// AzureClient talks to an Azure Document Intelligence endpoint using the
// prebuilt-layout model: submit the document, then poll the returned
// Operation-Location until the analysis settles.
type AzureClient struct {
	client *http.Client

	endpoint string
	key      string
	locale   string

	pollInterval time.Duration
}

var _ Provider = (*AzureClient)(nil)

// AzureOption customises an AzureClient.
type AzureOption func(*AzureClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) AzureOption {
	return func(c *AzureClient) { c.client = client }
}

// WithLocale sets the document locale hint sent to the service.
func WithLocale(locale string) AzureOption {
	return func(c *AzureClient) { c.locale = locale }
}

// WithPollInterval overrides the delay between operation status polls.
func WithPollInterval(d time.Duration) AzureOption {
	return func(c *AzureClient) { c.pollInterval = d }
}

// NewAzureClient creates a layout provider for the given endpoint and key.
func NewAzureClient(endpoint, key string, options ...AzureOption) (*AzureClient, error) {
	if endpoint == "" {
		return nil, errors.New("ocr: endpoint required")
	}
	c := &AzureClient{
		client:       http.DefaultClient,
		endpoint:     endpoint,
		key:          key,
		locale:       "en-US",
		pollInterval: 2 * time.Second,
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

const azureAPIVersion = "2024-11-30"

// Analyze submits doc to the layout model and blocks until the result is
// available or ctx is cancelled.
func (c *AzureClient) Analyze(ctx context.Context, doc Document) (*Result, error) {
	u, err := url.Parse(strings.TrimRight(c.endpoint, "/") + "/documentintelligence/documentModels/prebuilt-layout:analyze")
	if err != nil {
		return nil, fmt.Errorf("ocr: parse endpoint: %w", err)
	}
	query := u.Query()
	query.Set("api-version", azureAPIVersion)
	if c.locale != "" {
		query.Set("locale", c.locale)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(doc.Content))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr: submit %s: %w", doc.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, azureError(resp)
	}
	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return nil, errors.New("ocr: missing operation location")
	}

	for {
		op, err := c.pollOperation(ctx, operationURL)
		if err != nil {
			return nil, err
		}
		switch op.Status {
		case azureStatusRunning, azureStatusNotStarted:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}
		case azureStatusSucceeded:
			return op.Result.convert(), nil
		default:
			return nil, fmt.Errorf("ocr: analysis of %s ended with status %q", doc.Name, op.Status)
		}
	}
}

func (c *AzureClient) pollOperation(ctx context.Context, operationURL string) (*azureOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr: poll operation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, azureError(resp)
	}
	var op azureOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("ocr: decode operation: %w", err)
	}
	return &op, nil
}

func azureError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("ocr: service returned %d: %s", resp.StatusCode, msg)
}

// Wire model, matching the Document Intelligence REST responses.

type azureStatus string

const (
	azureStatusSucceeded  azureStatus = "succeeded"
	azureStatusRunning    azureStatus = "running"
	azureStatusNotStarted azureStatus = "notStarted"
)

type azureOperation struct {
	Status azureStatus `json:"status"`
	Result azureResult `json:"analyzeResult"`
}

type azureResult struct {
	ModelID string       `json:"modelId"`
	Pages   []azurePage  `json:"pages"`
	Tables  []azureTable `json:"tables"`
}

type azurePage struct {
	PageNumber int         `json:"pageNumber"`
	Lines      []azureLine `json:"lines"`
}

type azureLine struct {
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon"`
}

type azureTable struct {
	RowCount        int                  `json:"rowCount"`
	ColumnCount     int                  `json:"columnCount"`
	Cells           []azureCell          `json:"cells"`
	BoundingRegions []azureRegion `json:"boundingRegions"`
}

type azureRegion struct {
	PageNumber int       `json:"pageNumber"`
	Polygon    []float64 `json:"polygon"`
}

type azureCell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Content     string `json:"content"`
}

// convert maps the wire model onto the closed pipeline model. This is the
// single point where provider payloads are validated and normalized.
func (r azureResult) convert() *Result {
	out := &Result{}
	for _, page := range r.Pages {
		p := Page{PageNumber: page.PageNumber}
		for _, line := range page.Lines {
			p.Lines = append(p.Lines, Line{
				Content: line.Content,
				Polygon: convertPolygon(line.Polygon),
			})
		}
		out.Pages = append(out.Pages, p)
	}
	for _, table := range r.Tables {
		t := Table{}
		for _, region := range table.BoundingRegions {
			t.BoundingRegions = append(t.BoundingRegions, BoundingRegion{
				PageNumber: region.PageNumber,
				Polygon:    convertPolygon(region.Polygon),
			})
		}
		for _, cell := range table.Cells {
			t.Cells = append(t.Cells, Cell{
				RowIndex:    cell.RowIndex,
				ColumnIndex: cell.ColumnIndex,
				Content:     cell.Content,
			})
		}
		out.Tables = append(out.Tables, t)
	}
	return out
}

// convertPolygon folds the flat [x1,y1,x2,y2,...] coordinate list into points.
// A trailing odd coordinate is dropped.
func convertPolygon(flat []float64) []Point {
	points := make([]Point, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		points = append(points, Point{X: flat[i], Y: flat[i+1]})
	}
	return points
}
