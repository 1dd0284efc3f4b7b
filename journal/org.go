package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/railtrader/market"
)

// FormatTradeOrg renders a trade as an Org-mode block. Structured facts go in
// a PROPERTIES drawer and the Thesis/Execution/Review headings are left
// blank for notes.
func FormatTradeOrg(t TradeRecord) string {
	heading := fmt.Sprintf("** Trade: %s %s (%s)", t.Symbol, t.Direction, t.DecisionID)
	places := market.PriceDecimals(t.Symbol, 5)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", t.DecisionID)
	fmt.Fprintf(&b, ":INSTRUMENT: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":DIRECTION: %s\n", t.Direction)
	fmt.Fprintf(&b, ":UNITS: %d\n", t.Units)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %s\n", t.EntryPrice.StringFixed(places))
	fmt.Fprintf(&b, ":EXIT_PRICE: %s\n", t.ExitPrice.StringFixed(places))
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", t.OpenTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", t.CloseTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":REALIZED_PL: %s\n", t.PnL.StringFixed(2))
	if t.ConfigHash != "" {
		fmt.Fprintf(&b, ":CONFIG_HASH: %s\n", t.ConfigHash)
	}
	if t.Source != "" {
		fmt.Fprintf(&b, ":SOURCE: %s\n", t.Source)
	}
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}
