package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"trendengine/internal/model"
)

// FlipTitle is the title of every trend-flip alert.
const FlipTitle = "Supertrend flip"

// FlipAlert describes a confirmed trend flip.
func FlipAlert(r *model.TrendResult) Alert {
	return Alert{
		Level: AlertInfo,
		Title: FlipTitle,
		Message: fmt.Sprintf("%s %s@%ds flipped %s (close %.2f, stop %.2f)",
			r.Name, r.Key(), r.TF, r.Direction(), r.Close, r.Stop),
		Fields: map[string]string{
			"indicator": r.Name,
			"symbol":    r.Key(),
			"tf":        model.Itoa(r.TF),
			"direction": r.Direction(),
			"close":     fmt.Sprintf("%.2f", r.Close),
			"stop":      fmt.Sprintf("%.2f", r.Stop),
		},
		TS: r.TS,
	}
}

// FlipAlerter sends an alert through every notifier for each confirmed
// flip. Delivery failures are logged and reported, never retried.
type FlipAlerter struct {
	notifiers []Notifier
	timeout   time.Duration

	// OnFailure is called once per failed delivery.
	OnFailure func(err error)
}

// NewFlipAlerter creates an alerter over notifiers.
func NewFlipAlerter(notifiers ...Notifier) *FlipAlerter {
	return &FlipAlerter{notifiers: notifiers, timeout: 15 * time.Second}
}

// Handle alerts on r if it is a confirmed flip. Returns the number of
// notifiers that failed.
func (a *FlipAlerter) Handle(ctx context.Context, r *model.TrendResult) int {
	if !r.Flipped || r.Live {
		return 0
	}
	alert := FlipAlert(r)

	failed := 0
	for _, n := range a.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
		err := n.Send(sendCtx, alert)
		cancel()
		if err != nil {
			failed++
			log.Printf("[notify] flip alert for %s failed: %v", r.StreamKey(), err)
			if a.OnFailure != nil {
				a.OnFailure(err)
			}
		}
	}
	return failed
}

// Run consumes results until ctx is cancelled or in is closed.
func (a *FlipAlerter) Run(ctx context.Context, in <-chan model.TrendResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			a.Handle(ctx, &r)
		}
	}
}
