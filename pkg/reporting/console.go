package reporting

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-signal-bot/internal/store"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintKeyValues renders a two column table, used for startup banners
func PrintKeyValues(w io.Writer, title string, rows [][2]string) {
	t := newTable(w, title)
	for _, r := range rows {
		t.AppendRow(table.Row{r[0], r[1]})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 50, Align: text.AlignLeft},
	})
	t.Render()
}

// PrintOrders renders recent orders newest first
func PrintOrders(w io.Writer, orders []store.OrderRecord) {
	t := newTable(w, "RECENT ORDERS")
	t.AppendHeader(table.Row{"Placed", "Symbol", "Side", "Amount", "Price", "Status", "Filled", "SL", "TP", "Protection"})
	for _, o := range orders {
		protection := o.Protection
		if o.LegErrors != "" {
			protection = text.FgYellow.Sprint(protection + " !")
		}
		t.AppendRow(table.Row{
			formatTime(o.PlacedAt), o.Symbol, o.Side,
			fmt.Sprintf("%.6f", o.Amount), price(o.Price), o.Status,
			fmt.Sprintf("%.6f", o.FilledAmount), price(o.StopLoss), price(o.TakeProfit), protection,
		})
	}
	if len(orders) == 0 {
		t.AppendRow(table.Row{"no orders recorded"})
	}
	t.SetColumnConfigs(rightAligned(4, 5, 7, 8, 9))
	t.Render()
}

// PrintTrades renders closed trades with a P&L footer
func PrintTrades(w io.Writer, trades []store.TradeRecord) {
	t := newTable(w, "CLOSED TRADES")
	t.AppendHeader(table.Row{"Closed", "Symbol", "Side", "Amount", "Entry", "Exit", "PnL"})
	for _, tr := range trades {
		t.AppendRow(table.Row{
			formatTime(tr.ClosedAt), tr.Symbol, tr.Side, fmt.Sprintf("%.6f", tr.Amount),
			price(tr.EntryPrice), price(tr.ExitPrice), colorPnL(tr.PnL),
		})
	}
	s := Summarize(trades)
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", colorPnL(s.TotalPnL)})
	t.SetColumnConfigs(rightAligned(4, 5, 6, 7))
	t.Render()
}

// PrintSummary renders trade statistics and order counts by status
func PrintSummary(w io.Writer, orders []store.OrderRecord, trades []store.TradeRecord) {
	s := Summarize(trades)
	rows := [][2]string{
		{"Orders", fmt.Sprintf("%d", len(orders))},
		{"Closed trades", fmt.Sprintf("%d", s.Trades)},
		{"Win rate", fmt.Sprintf("%.1f%% (%d/%d)", s.WinRate*100, s.Wins, s.Trades)},
		{"Total PnL", fmt.Sprintf("%.2f", s.TotalPnL)},
		{"Best / worst", fmt.Sprintf("%.2f / %.2f", s.BestTrade, s.WorstTrade)},
	}
	for status, n := range OrderCounts(orders) {
		rows = append(rows, [2]string{"Orders " + status, fmt.Sprintf("%d", n)})
	}
	PrintKeyValues(w, "SUMMARY", rows)
}

func price(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func colorPnL(v float64) string {
	s := fmt.Sprintf("%+.2f", v)
	if v < 0 {
		return text.FgRed.Sprint(s)
	}
	return text.FgGreen.Sprint(s)
}

func rightAligned(cols ...int) []table.ColumnConfig {
	cfg := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		cfg[i] = table.ColumnConfig{Number: c, Align: text.AlignRight}
	}
	return cfg
}
