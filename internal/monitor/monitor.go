package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"okx-core/internal/events"
)

// Monitor turns bus events into metrics and forwards alarms to a sink.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Sink    AlertSink
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	if m.Sink == nil {
		m.Sink = LogSink{}
	}

	topics := []events.Event{
		events.EventSubmitResult,
		events.EventOrderFinalized,
		events.EventOrderReleased,
		events.EventCancelAttempt,
		events.EventPendingCount,
		events.EventAlarm,
		events.EventRiskState,
		events.EventEquity,
	}
	for _, topic := range topics {
		stream, unsub := m.Bus.Subscribe(topic, 64)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					m.handle(msg)
				}
			}
		}()
	}
}

func (m *Monitor) handle(msg any) {
	switch ev := msg.(type) {
	case events.SubmitResult:
		m.Metrics.Submits.WithLabelValues(ev.Outcome).Inc()
	case events.Finalized:
		m.Metrics.Completions.WithLabelValues(ev.Outcome).Inc()
	case events.Released:
		m.Metrics.Completions.WithLabelValues("canceled_no_fill").Inc()
	case events.CancelAttempt:
		m.Metrics.CancelAttempts.WithLabelValues(ev.Result).Inc()
	case int:
		m.Metrics.PendingOrders.Set(float64(ev))
	case events.Alarm:
		m.Metrics.Alarms.WithLabelValues(ev.Kind).Inc()
		if err := m.Sink.Send(formatAlert(ev)); err != nil {
			log.Printf("monitor: alert delivery failed: %v", err)
		}
	case events.RiskState:
		halted := 0.0
		if ev.Halted {
			halted = 1
		}
		m.Metrics.RiskHalted.Set(halted)
		m.Metrics.BaselineEquity.Set(ev.BaselineEquity)
	case events.Equity:
		m.Metrics.Equity.Set(ev.Total)
	}
}

func formatAlert(a events.Alarm) string {
	at := a.Time
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("[%s] %s %s: %s", at.Format(time.RFC3339), a.Kind, a.Key, a.Message)
}
