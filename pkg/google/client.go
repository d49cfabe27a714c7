package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/harrisonrobin/reverify/pkg/model"
	"github.com/harrisonrobin/reverify/pkg/sheet"
)

// SheetsClient reads and writes the delegation tab through the Sheets API.
type SheetsClient struct {
	srv           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsClient creates a Sheets API client and checks that the spreadsheet has a tab
// called sheetName.
func NewSheetsClient(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetsClient, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets client: %w", err)
	}

	ss, err := srv.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve spreadsheet %s: %w", spreadsheetID, err)
	}

	found := false
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheetName {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("sheet '%s' not found in spreadsheet %s", sheetName, spreadsheetID)
	}

	return &SheetsClient{srv: srv, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// NewSheetsClientWithHTTP is NewSheetsClient over an already authenticated *http.Client.
func NewSheetsClientWithHTTP(ctx context.Context, client *http.Client, spreadsheetID, sheetName string) (*SheetsClient, error) {
	return NewSheetsClient(ctx, spreadsheetID, sheetName, option.WithHTTPClient(client))
}

// FetchRows reads the tab's formatted values.
func (c *SheetsClient) FetchRows(ctx context.Context) (*sheet.Table, error) {
	vr, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, quoteSheet(c.sheetName)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	return sheet.FromValues(vr.Values), nil
}

// WriteVerifications sets the verification date and remarks cells of every item's row.
func (c *SheetsClient) WriteVerifications(ctx context.Context, items []sheet.WriteItem) error {
	if len(items) == 0 {
		return nil
	}

	data := make([]*sheets.ValueRange, len(items))
	for i, it := range items {
		data[i] = &sheets.ValueRange{
			Range:  verificationRange(c.sheetName, it.RowIndex),
			Values: [][]interface{}{{it.VerificationDate, it.Remarks}},
		}
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             data,
	}
	if _, err := c.srv.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", sheet.ErrWriteRejected, gerr.Message)
		}
		return fmt.Errorf("batch update failed: %w", err)
	}
	return nil
}

// verificationRange is the A1 range of the verification date and remarks cells of a row.
func verificationRange(sheetName string, row int) string {
	from := columnLetter(model.ColVerificationDate)
	to := columnLetter(model.ColRemarks)
	return fmt.Sprintf("%s!%s%d:%s%d", quoteSheet(sheetName), from, row, to, row)
}

func columnLetter(c model.Column) string {
	return string(rune('A' + int(c)))
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
