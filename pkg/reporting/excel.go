package reporting

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-signal-bot/internal/store"
)

const (
	ordersSheet  = "Orders"
	tradesSheet  = "Trades"
	summarySheet = "Summary"

	timeLayout = "2006-01-02 15:04:05"
)

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle  int
	BaseStyle    int
	PriceStyle   int
	PercentStyle int
	ProfitStyle  int
	LossStyle    int
	WarningStyle int
	SummaryStyle int
}

// WriteHistoryXLSX writes orders, trades and a summary to a workbook at path
func WriteHistoryXLSX(path string, orders []store.OrderRecord, trades []store.TradeRecord) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), ordersSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(tradesSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}
	if err := writeOrdersSheet(fx, orders, styles); err != nil {
		return err
	}
	if err := writeTradesSheet(fx, trades, styles); err != nil {
		return err
	}
	if err := writeSummarySheet(fx, orders, trades, styles); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	defs := []struct {
		target *int
		style  *excelize.Style
	}{
		{&styles.HeaderStyle, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Border: []excelize.Border{
				{Type: "left", Color: "000000", Style: 1},
				{Type: "right", Color: "000000", Style: 1},
				{Type: "top", Color: "000000", Style: 1},
				{Type: "bottom", Color: "000000", Style: 1},
			},
		}},
		{&styles.BaseStyle, &excelize.Style{Border: border}},
		{&styles.PriceStyle, &excelize.Style{
			NumFmt:    4, // #,##0.00
			Alignment: &excelize.Alignment{Horizontal: "right"},
			Border:    border,
		}},
		{&styles.PercentStyle, &excelize.Style{
			NumFmt:    10, // 0.00%
			Alignment: &excelize.Alignment{Horizontal: "right"},
			Border:    border,
		}},
		{&styles.ProfitStyle, &excelize.Style{
			NumFmt:    4,
			Font:      &excelize.Font{Color: "006100"},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "right"},
			Border:    border,
		}},
		{&styles.LossStyle, &excelize.Style{
			NumFmt:    4,
			Font:      &excelize.Font{Color: "9C0006"},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "right"},
			Border:    border,
		}},
		// unprotected fills stand out
		{&styles.WarningStyle, &excelize.Style{
			Font:   &excelize.Font{Bold: true, Color: "9C5700"},
			Fill:   excelize.Fill{Type: "pattern", Color: []string{"FFEB9C"}, Pattern: 1},
			Border: border,
		}},
		{&styles.SummaryStyle, &excelize.Style{
			Font:   &excelize.Font{Bold: true, Size: 11},
			Fill:   excelize.Fill{Type: "pattern", Color: []string{"D9E1F2"}, Pattern: 1},
			Border: border,
		}},
	}
	for _, d := range defs {
		id, err := fx.NewStyle(d.style)
		if err != nil {
			return styles, err
		}
		*d.target = id
	}
	return styles, nil
}

func writeHeader(fx *excelize.File, sheet string, headers []string, widths []float64, styles ExcelStyles) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle); err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := fx.SetColWidth(sheet, col, col, widths[i]); err != nil {
			return err
		}
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// writeRow writes values from column A with one style per value
func writeRow(fx *excelize.File, sheet string, row int, values []any, rowStyles []int) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, rowStyles[i]); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func writeOrdersSheet(fx *excelize.File, orders []store.OrderRecord, styles ExcelStyles) error {
	headers := []string{
		"Placed", "Symbol", "Side", "Type", "Amount", "Price", "Status", "Filled", "Fill Price",
		"Stop Loss", "Take Profit", "Protection", "Leg Errors", "Completed", "Order ID",
	}
	widths := []float64{19, 12, 6, 8, 12, 12, 16, 12, 12, 12, 12, 18, 40, 19, 38}
	if err := writeHeader(fx, ordersSheet, headers, widths, styles); err != nil {
		return err
	}

	sorted := make([]store.OrderRecord, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PlacedAt.Before(sorted[j].PlacedAt) })

	for i, o := range sorted {
		protection := styles.BaseStyle
		if o.LegErrors != "" && o.FilledAmount > 0 {
			protection = styles.WarningStyle
		}
		values := []any{
			formatTime(o.PlacedAt), o.Symbol, o.Side, o.Type, o.Amount, o.Price, o.Status, o.FilledAmount,
			o.FillPrice, o.StopLoss, o.TakeProfit, o.Protection, o.LegErrors, formatTime(o.CompletedAt), o.ID,
		}
		rowStyles := []int{
			styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, styles.PriceStyle,
			styles.PriceStyle, styles.BaseStyle, styles.PriceStyle, styles.PriceStyle, styles.PriceStyle,
			styles.PriceStyle, protection, protection, styles.BaseStyle, styles.BaseStyle,
		}
		if err := writeRow(fx, ordersSheet, i+2, values, rowStyles); err != nil {
			return err
		}
	}
	return nil
}

func writeTradesSheet(fx *excelize.File, trades []store.TradeRecord, styles ExcelStyles) error {
	headers := []string{"Opened", "Closed", "Symbol", "Side", "Amount", "Entry", "Exit", "PnL", "Return %"}
	widths := []float64{19, 19, 12, 6, 12, 12, 12, 14, 10}
	if err := writeHeader(fx, tradesSheet, headers, widths, styles); err != nil {
		return err
	}

	sorted := make([]store.TradeRecord, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClosedAt.Before(sorted[j].ClosedAt) })

	for i, t := range sorted {
		pnlStyle := styles.ProfitStyle
		if t.PnL < 0 {
			pnlStyle = styles.LossStyle
		}
		var ret float64
		if notional := t.Amount * t.EntryPrice; notional > 0 {
			ret = t.PnL / notional
		}
		values := []any{
			formatTime(t.OpenedAt), formatTime(t.ClosedAt), t.Symbol, t.Side, t.Amount,
			t.EntryPrice, t.ExitPrice, t.PnL, ret,
		}
		rowStyles := []int{
			styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, styles.PriceStyle,
			styles.PriceStyle, styles.PriceStyle, pnlStyle, styles.PercentStyle,
		}
		if err := writeRow(fx, tradesSheet, i+2, values, rowStyles); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(fx *excelize.File, orders []store.OrderRecord, trades []store.TradeRecord, styles ExcelStyles) error {
	if err := writeHeader(fx, summarySheet, []string{"Metric", "Value"}, []float64{24, 16}, styles); err != nil {
		return err
	}

	s := Summarize(trades)
	pnlStyle := styles.ProfitStyle
	if s.TotalPnL < 0 {
		pnlStyle = styles.LossStyle
	}
	rows := []struct {
		label string
		value any
		style int
	}{
		{"Orders", len(orders), styles.BaseStyle},
		{"Closed Trades", s.Trades, styles.BaseStyle},
		{"Wins", s.Wins, styles.BaseStyle},
		{"Losses", s.Losses, styles.BaseStyle},
		{"Win Rate", s.WinRate, styles.PercentStyle},
		{"Total PnL", s.TotalPnL, pnlStyle},
		{"Best Trade", s.BestTrade, styles.PriceStyle},
		{"Worst Trade", s.WorstTrade, styles.PriceStyle},
	}

	counts := OrderCounts(orders)
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		rows = append(rows, struct {
			label string
			value any
			style int
		}{"Orders " + status, counts[status], styles.BaseStyle})
	}

	for i, r := range rows {
		if err := writeRow(fx, summarySheet, i+2, []any{r.label, r.value}, []int{styles.SummaryStyle, r.style}); err != nil {
			return err
		}
	}
	return nil
}
