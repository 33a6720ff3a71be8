// Package notification delivers stroke events to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"chanlun-engine/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a notification to be sent. Event is set for stroke alerts.
type Alert struct {
	Level   AlertLevel         `json:"level"`
	Title   string             `json:"title"`
	Message string             `json:"message"`
	Event   *model.StrokeEvent `json:"event,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends to every notifier and joins their errors.
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

// AlertFromEvent renders a stroke event. Corrections are warnings since they
// rewrite structure already reported.
func AlertFromEvent(ev model.StrokeEvent) Alert {
	dir := "up"
	if ev.Direction < 0 {
		dir = "down"
	}
	a := Alert{Level: AlertInfo, Event: &ev}
	switch ev.Kind {
	case model.EventConfirmed:
		a.Title = fmt.Sprintf("%s %s stroke confirmed", ev.Symbol, dir)
	case model.EventCorrected:
		a.Level = AlertWarning
		a.Title = fmt.Sprintf("%s stroke corrected (%d popped)", ev.Symbol, ev.Popped)
	default:
		a.Title = fmt.Sprintf("%s stroke %s", ev.Symbol, ev.Kind)
	}

	a.Message = fmt.Sprintf("candidate %s %.4f at %s", ev.Candidate.Kind, ev.Candidate.Price, ev.Candidate.TS.Format("2006-01-02 15:04:05"))
	if ev.Valid != nil {
		a.Message = fmt.Sprintf("from %s %.4f at %s, %s", ev.Valid.Kind, ev.Valid.Price, ev.Valid.TS.Format("2006-01-02 15:04:05"), a.Message)
	}
	return a
}

// Dispatcher turns stroke events into alerts. Only the configured kinds are
// sent; extensions are frequent and skipped by default.
type Dispatcher struct {
	n     Notifier
	kinds map[model.EventKind]bool
}

// NewDispatcher creates a dispatcher. No kinds means confirmed and corrected.
func NewDispatcher(n Notifier, kinds ...model.EventKind) *Dispatcher {
	if len(kinds) == 0 {
		kinds = []model.EventKind{model.EventConfirmed, model.EventCorrected}
	}
	d := &Dispatcher{n: n, kinds: make(map[model.EventKind]bool, len(kinds))}
	for _, k := range kinds {
		d.kinds[k] = true
	}
	return d
}

// Notify sends one event if its kind is enabled.
func (d *Dispatcher) Notify(ctx context.Context, ev model.StrokeEvent) error {
	if !d.kinds[ev.Kind] {
		return nil
	}
	return d.n.Send(ctx, AlertFromEvent(ev))
}

// Run notifies every event from ch until ctx is done or ch closes.
// Delivery errors are logged.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan model.StrokeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := d.Notify(ctx, ev); err != nil {
				log.Printf("[notify] %s %s: %v", ev.Symbol, ev.Kind, err)
			}
		}
	}
}
