package engine

import (
	"errors"

	"papertrader/internal/marketdata"
	"papertrader/internal/retry"
)

var (
	// ErrSubscriptionDead wraps the error of a kline stream that ended while
	// its session was still running.
	ErrSubscriptionDead = errors.New("engine: subscription dead")

	// ErrNoPrice means neither the ticker nor a streamed candle could price
	// the session-end force close.
	ErrNoPrice = errors.New("engine: no price available")
)

// Skip causes, used as metric labels.
const (
	causeDataUnavailable = "data_unavailable"
	causeTransport       = "transport"
	causeIndicator       = "indicator"
	causeSessionEnded    = "session_ended"
	causeOther           = "other"
)

// skipCause classifies a pipeline error. Data and transport failures mean
// "no data this cycle"; anything else is unexpected.
func skipCause(err error) string {
	switch {
	case errors.Is(err, marketdata.ErrDataUnavailable):
		return causeDataUnavailable
	case errors.Is(err, retry.ErrExhausted):
		return causeTransport
	default:
		return causeOther
	}
}
