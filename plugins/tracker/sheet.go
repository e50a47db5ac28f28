package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	pipelineRange  = "A:I"
	companiesSheet = "Allowed Companies"
)

// Sheet is the spreadsheet the pipeline lives in.
type Sheet interface {
	// Rows returns the pipeline rows, header included, as A:I.
	Rows(ctx context.Context) ([][]string, error)
	// UpdateCell writes value to an A1 cell such as "D7".
	UpdateCell(ctx context.Context, cell, value string) error
	AppendRow(ctx context.Context, row []string) error
	Companies(ctx context.Context) ([]string, error)
	AddCompany(ctx context.Context, name string) error
}

type googleSheet struct {
	svc *sheets.Service
	id  string
}

// NewGoogleSheet opens spreadsheetID with a service account key file.
func NewGoogleSheet(ctx context.Context, spreadsheetID, credentialsFile string) (Sheet, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	svc, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsFile), option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &googleSheet{svc: svc, id: spreadsheetID}, nil
}

func (g *googleSheet) get(ctx context.Context, rng string) ([][]string, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.id, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		out = append(out, cells)
	}
	return out, nil
}

func (g *googleSheet) Rows(ctx context.Context) ([][]string, error) {
	return g.get(ctx, pipelineRange)
}

func (g *googleSheet) UpdateCell(ctx context.Context, cell, value string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := g.svc.Spreadsheets.Values.Update(g.id, cell, vr).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", cell, err)
	}
	return nil
}

func (g *googleSheet) AppendRow(ctx context.Context, row []string) error {
	return g.append(ctx, pipelineRange, row)
}

func (g *googleSheet) append(ctx context.Context, rng string, row []string) error {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{cells}}
	_, err := g.svc.Spreadsheets.Values.Append(g.id, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", rng, err)
	}
	return nil
}

func (g *googleSheet) Companies(ctx context.Context) ([]string, error) {
	rows, err := g.get(ctx, "'"+companiesSheet+"'!A:A")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if len(r) > 0 && strings.TrimSpace(r[0]) != "" {
			out = append(out, strings.TrimSpace(r[0]))
		}
	}
	return out, nil
}

func (g *googleSheet) AddCompany(ctx context.Context, name string) error {
	return g.append(ctx, "'"+companiesSheet+"'!A:A", []string{name})
}
