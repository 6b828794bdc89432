package archive

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"tracecore/pkg/domain"
)

// Sheet names in the trace and stock workbooks.
const (
	SheetEvents   = "Events"
	SheetNodes    = "Lots and Facilities"
	SheetWarnings = "Warnings"
	SheetSummary  = "Summary"
	SheetStock    = "Stock"
)

var (
	eventHeaders = []string{
		"Event", "From", "From TLC", "From Facility", "To", "To TLC", "To Facility",
		"Quantity", "Unit", "Occurred At", "Source Record", "Inferred",
	}
	nodeHeaders = []string{
		"Node", "Kind", "TLC", "Facility", "Label", "Depth", "Parent", "Via",
		"Path Quantity", "Unit", "Inferred",
	}
	warningHeaders = []string{"Kind", "Message", "Lot TLC", "Entity", "Entity ID", "Value", "Unit"}
	stockHeaders   = []string{
		"TLC", "Unit", "Current Stock", "Total Production", "Total Receiving", "Total Shipping",
		"Receiving Count", "Shipment Count", "Untouched", "Negative", "Warnings", "Computed At",
	}
)

func renderJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// traceEventRows flattens edges into the sortable per-event layout, one row
// per traversed relationship in traversal order.
func traceEventRows(res domain.TraceResult) [][]string {
	index := make(map[string]domain.TraceNode, len(res.Nodes))
	for _, n := range res.Nodes {
		index[n.ID] = n
	}
	rows := make([][]string, 0, len(res.Edges))
	for _, e := range res.Edges {
		from, to := index[e.From], index[e.To]
		rows = append(rows, []string{
			string(e.Kind), e.From, from.TLC, from.FacilityID, e.To, to.TLC, to.FacilityID,
			e.Quantity.String(), string(e.Unit), formatTime(e.OccurredAt), e.SourceID,
			strconv.FormatBool(e.Inferred),
		})
	}
	return rows
}

func traceNodeRows(res domain.TraceResult) [][]string {
	rows := make([][]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		rows = append(rows, []string{
			n.ID, string(n.Kind), n.TLC, n.FacilityID, n.Label, strconv.Itoa(n.Depth), n.Parent,
			string(n.Via), n.PathQuantity.String(), string(n.Unit), strconv.FormatBool(n.Inferred),
		})
	}
	return rows
}

func warningRows(ws []domain.Warning) [][]string {
	rows := make([][]string, 0, len(ws))
	for _, w := range ws {
		value := ""
		if w.Value != nil {
			value = w.Value.String()
		}
		rows = append(rows, []string{
			string(w.Kind), w.Message, w.LotTLC, string(w.Entity), w.EntityID, value, string(w.Unit),
		})
	}
	return rows
}

func stockRow(sb domain.StockBreakdown) []string {
	return []string{
		sb.TLC, string(sb.Unit), sb.CurrentStock.String(), sb.TotalProduction.String(),
		sb.TotalReceiving.String(), sb.TotalShipping.String(), strconv.Itoa(sb.ReceivingCount),
		strconv.Itoa(sb.ShipmentCount), strconv.FormatBool(sb.Untouched), strconv.FormatBool(sb.Negative),
		strconv.Itoa(len(sb.Warnings)), formatTime(sb.ComputedAt),
	}
}

func writeCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderTraceCSV writes one row per traversed event.
func RenderTraceCSV(res domain.TraceResult) ([]byte, error) {
	return writeCSV(eventHeaders, traceEventRows(res))
}

// RenderStockCSV writes the breakdown as a single data row.
func RenderStockCSV(sb domain.StockBreakdown) ([]byte, error) {
	return writeCSV(stockHeaders, [][]string{stockRow(sb)})
}

// numericColumns lists, per sheet, the columns written as numbers so the
// spreadsheet sorts quantities numerically.
var numericColumns = map[string]map[int]bool{
	SheetEvents: {7: true},
	SheetNodes:  {5: true, 8: true},
	SheetStock:  {2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 10: true},
}

type sheet struct {
	name    string
	headers []string
	rows    [][]string
}

// RenderTraceXLSX builds the FDA sortable spreadsheet for a trace: traversed
// events, reached nodes, warnings and a run summary.
func RenderTraceXLSX(res domain.TraceResult) ([]byte, error) {
	summary := [][]string{
		{"Seed", res.Seed},
		{"Direction", string(res.Direction)},
		{"Max Depth", strconv.Itoa(res.MaxDepth)},
		{"Truncated", strconv.FormatBool(res.Truncated)},
		{"Truncation Reason", string(res.TruncationReason)},
		{"Generated At", formatTime(res.GeneratedAt)},
	}
	return writeWorkbook([]sheet{
		{name: SheetEvents, headers: eventHeaders, rows: traceEventRows(res)},
		{name: SheetNodes, headers: nodeHeaders, rows: traceNodeRows(res)},
		{name: SheetWarnings, headers: warningHeaders, rows: warningRows(res.Warnings)},
		{name: SheetSummary, headers: []string{"Field", "Value"}, rows: summary},
	})
}

// RenderStockXLSX builds a workbook with the breakdown and its warnings.
func RenderStockXLSX(sb domain.StockBreakdown) ([]byte, error) {
	return writeWorkbook([]sheet{
		{name: SheetStock, headers: stockHeaders, rows: [][]string{stockRow(sb)}},
		{name: SheetWarnings, headers: warningHeaders, rows: warningRows(sb.Warnings)},
	})
}

func writeWorkbook(sheets []sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return nil, err
		}
		if err := writeSheet(f, sh, headerStyle); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sh.name, err)
		}
	}
	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sh sheet, headerStyle int) error {
	header := make([]any, len(sh.headers))
	for i, h := range sh.headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sh.name, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(sh.headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sh.name, "A1", last, headerStyle); err != nil {
		return err
	}
	numeric := numericColumns[sh.name]
	for r, row := range sh.rows {
		values := make([]any, len(row))
		for c, v := range row {
			values[c] = v
			if numeric[c] && v != "" {
				if d, err := decimal.NewFromString(v); err == nil {
					values[c] = d.InexactFloat64()
				}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sh.name, cell, &values); err != nil {
			return err
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(sh.headers))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sh.name, "A", lastCol, 18); err != nil {
		return err
	}
	if err := f.SetPanes(sh.name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	if len(sh.rows) == 0 {
		return nil
	}
	bottom, err := excelize.CoordinatesToCellName(len(sh.headers), len(sh.rows)+1)
	if err != nil {
		return err
	}
	return f.AutoFilter(sh.name, "A1:"+bottom, nil)
}
