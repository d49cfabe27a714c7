package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/harrisonrobin/reverify/pkg/sheet"
)

const updateAction = "updateReverificationData"

// AppsScriptClient talks to the Apps Script web app that fronts the delegation sheet.
type AppsScriptClient struct {
	endpoint  string
	sheetName string
	http      *http.Client
}

// NewAppsScriptClient creates a client for the web app at endpoint. A nil httpClient
// means http.DefaultClient.
func NewAppsScriptClient(endpoint, sheetName string, httpClient *http.Client) *AppsScriptClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AppsScriptClient{endpoint: endpoint, sheetName: sheetName, http: httpClient}
}

// FetchRows reads the whole sheet.
func (c *AppsScriptClient) FetchRows(ctx context.Context) (*sheet.Table, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", c.endpoint, err)
	}
	q := u.Query()
	q.Set("sheet", c.sheetName)
	q.Set("action", "fetch")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch data: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return sheet.ParseTable(body)
}

// WriteVerifications posts the batch as form fields sheetName, action and rowData.
func (c *AppsScriptClient) WriteVerifications(ctx context.Context, items []sheet.WriteItem) error {
	rowData, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("could not encode row data: %w", err)
	}

	form := url.Values{}
	form.Set("sheetName", c.sheetName)
	form.Set("action", updateAction)
	form.Set("rowData", string(rowData))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	var result sheet.WriteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode submission response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", sheet.ErrWriteRejected, result.Error)
	}
	return nil
}
