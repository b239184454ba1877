// Package notification provides alert delivery to external channels
// (Telegram, webhooks, logs) for trading events.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"papertrader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to every backend. Every backend is tried; the
// returned error joins all failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendAsync delivers an alert without blocking the caller. Failures are logged.
func SendAsync(ctx context.Context, n Notifier, alert Alert) {
	if n == nil {
		return
	}
	go func() {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed for %q: %v", alert.Title, err)
		}
	}()
}

func EntryAlert(symbol string, pos model.Position) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s opened", symbol, pos.Side),
		Message: fmt.Sprintf("Entry %.4f, size %.6f, SL %.4f, TP %.4f",
			pos.EntryPrice, pos.Size, pos.StopLoss, pos.TakeProfit),
	}
}

func CloseAlert(symbol string, tr model.TradeRecord) Alert {
	level := AlertInfo
	if tr.PnL < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s closed (%s)", symbol, tr.Side, tr.Reason),
		Message: fmt.Sprintf("Entry %.4f, exit %.4f, PnL %.2f (%.2f%%)",
			tr.EntryPrice, tr.ExitPrice, tr.PnL, tr.PnLPercent),
	}
}

func HaltAlert(symbol string, balance, initial float64) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   fmt.Sprintf("%s trading halted", symbol),
		Message: fmt.Sprintf("Max drawdown reached: balance %.2f of initial %.2f", balance, initial),
	}
}

func StreamRestartAlert(symbol string, err error) Alert {
	return Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("%s stream restarted", symbol),
		Message: fmt.Sprintf("Kline subscription died: %v", err),
	}
}

func SummaryAlert(symbol string, s model.SessionSummary) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s session ended", symbol),
		Message: fmt.Sprintf("%s, runtime %s", s.Text(), s.Runtime.Round(1e9)),
	}
}

func ReportAlert(symbol string, st model.StatsRecord) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s periodic report", symbol),
		Message: fmt.Sprintf("Balance %.2f, equity %.2f, session PnL %.2f, trades %d, position %s",
			st.Balance, st.Equity, st.SessionPnL, st.TradesCount, st.Side),
	}
}
