// Package retry implements the pure RetryPolicy decision described in
// spec §4.5: given a classified error, the attempt index, and a
// RetryConfig, decide whether to retry and after what delay.
package retry

import (
	"math"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

// Decision is the outcome of Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Stop is the zero Decision: no retry.
var Stop = Decision{}

// Decide applies the rules from spec §4.5. exitCode is only consulted for
// model.KindAgentError; cooldownSeconds only for model.KindCooldown.
func Decide(kind model.Kind, attemptIndex int, cfg model.RetryConfig, exitCode int, cooldownSeconds int64) Decision {
	switch kind {
	case model.KindCooldown:
		if attemptIndex < cfg.MaxAttempts {
			return Decision{Retry: true, Delay: time.Duration(cooldownSeconds) * time.Second}
		}
		return Stop

	case model.KindTimeout, model.KindIOError:
		if attemptIndex >= cfg.MaxAttempts {
			return Stop
		}
		return Decision{Retry: true, Delay: backoff(cfg, attemptIndex)}

	case model.KindAgentError:
		if attemptIndex >= cfg.MaxAttempts {
			return Stop
		}
		for _, code := range cfg.RetriableExitCodes {
			if code == exitCode {
				return Decision{Retry: true, Delay: backoff(cfg, attemptIndex)}
			}
		}
		return Stop

	case model.KindParseError, model.KindPromptReference, model.KindValidation:
		return Stop

	default:
		return Stop
	}
}

func backoff(cfg model.RetryConfig, attemptIndex int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attemptIndex)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
