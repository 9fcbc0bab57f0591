// Package notification delivers signal alerts to external channels
// (log, generic webhook, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"masignal/internal/model"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a notification to be sent. Signal is set for signal alerts.
type Alert struct {
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Signal  *model.Signal `json:"signal,omitempty"`
}

// Notifier is implemented by every delivery backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// SignalAlert formats a BUY/SELL signal.
func SignalAlert(sig model.Signal) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s", sig.Action, sig.Symbol),
		Message: fmt.Sprintf("bar %s close %.3f | MA short %.3f long %.3f | volume %d vs avg %.0f | %s",
			sig.BarTS.Format("2006-01-02 15:04"), sig.Close, sig.ShortMA, sig.LongMA, sig.Volume, sig.VolumeMA, sig.Reason),
		Signal: &sig,
	}
}

// LogNotifier logs alerts. It is always enabled.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info(alert.Title, slog.String("level", string(alert.Level)), slog.String("message", alert.Message))
	return nil
}

// Multi sends each alert to every backend and joins their errors.
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

// Forward sends an alert for every actionable signal from ch until ctx is
// cancelled or ch is closed. Delivery errors go to onErr and never stop the loop.
func Forward(ctx context.Context, n Notifier, ch <-chan model.Signal, onErr func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if !sig.Actionable() {
				continue
			}
			if err := n.Send(ctx, SignalAlert(sig)); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
