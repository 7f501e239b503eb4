// Package notify fans stock alerts out to the configured channels.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/retail"
)

// Notifier delivers alerts for results that have stock.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, results []retail.StockResult) error
}

// Console prints alert blocks to stdout. It is the default channel and the
// only one with a real delivery path today.
type Console struct{}

func (Console) Name() string { return "console" }

func (Console) Notify(_ context.Context, results []retail.StockResult) error {
	for _, res := range results {
		if !res.HasStock {
			continue
		}
		fmt.Println(renderAlert(res))
	}
	return nil
}

func renderAlert(res retail.StockResult) string {
	var b strings.Builder
	b.WriteString("🚨 STOCK FOUND 🚨\n")
	fmt.Fprintf(&b, "%s - %s", strings.ToUpper(res.Store.Retailer), res.Store.Name)
	if res.Store.City != "" {
		fmt.Fprintf(&b, " (%s, %s)", res.Store.City, res.Store.State)
	}
	b.WriteString("\n")
	for _, p := range res.Products {
		if !retail.IsAvailable(p.Availability) {
			continue
		}
		fmt.Fprintf(&b, "  • %s", p.Name)
		if p.Price != "" {
			fmt.Fprintf(&b, " %s", p.Price)
		}
		fmt.Fprintf(&b, " [%s]", p.Availability)
		if p.URL != "" {
			fmt.Fprintf(&b, "\n    %s", p.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Email is a declared channel without a delivery path yet. Enabling it only
// logs, so the rest of the pipeline can be configured ahead of time.
type Email struct{}

func (Email) Name() string { return "email" }

func (Email) Notify(_ context.Context, results []retail.StockResult) error {
	utils.Log.Warnf("email notifications are not implemented, dropping %d alert(s)", countStocked(results))
	return nil
}

// Webhook is a declared channel without a delivery path yet.
type Webhook struct{}

func (Webhook) Name() string { return "webhook" }

func (Webhook) Notify(_ context.Context, results []retail.StockResult) error {
	utils.Log.Warnf("webhook notifications are not implemented, dropping %d alert(s)", countStocked(results))
	return nil
}

func countStocked(results []retail.StockResult) int {
	n := 0
	for _, res := range results {
		if res.HasStock {
			n++
		}
	}
	return n
}

// ForConfig builds the notifier set from config toggles. Console is on unless
// explicitly disabled.
func ForConfig(console, email, webhook bool) []Notifier {
	var out []Notifier
	if console {
		out = append(out, Console{})
	}
	if email {
		out = append(out, Email{})
	}
	if webhook {
		out = append(out, Webhook{})
	}
	return out
}

// Broadcast sends the stocked results to every notifier, logging failures
// instead of returning them so one channel cannot block another.
func Broadcast(ctx context.Context, notifiers []Notifier, results []retail.StockResult) {
	if countStocked(results) == 0 {
		return
	}
	for _, n := range notifiers {
		if err := n.Notify(ctx, results); err != nil {
			utils.Log.Errorf("%s notification failed: %v", n.Name(), err)
		}
	}
}
