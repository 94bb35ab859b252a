package retry

import (
	"testing"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

func TestCooldownRetriesUntilMaxAttempts(t *testing.T) {
	cfg := model.DefaultRetryConfig()
	d := Decide(model.KindCooldown, 0, cfg, 0, 120)
	if !d.Retry || d.Delay != 120*time.Second {
		t.Fatalf("expected retry with 120s delay, got %+v", d)
	}

	d = Decide(model.KindCooldown, cfg.MaxAttempts, cfg, 0, 120)
	if d.Retry {
		t.Fatalf("expected stop at max attempts, got %+v", d)
	}
}

func TestCooldownZeroSecondsRetriesImmediately(t *testing.T) {
	cfg := model.DefaultRetryConfig()
	d := Decide(model.KindCooldown, 0, cfg, 0, 0)
	if !d.Retry || d.Delay != 0 {
		t.Fatalf("expected immediate retry, got %+v", d)
	}
}

func TestTimeoutUsesExponentialBackoff(t *testing.T) {
	cfg := model.DefaultRetryConfig() // base=1s, multiplier=2, max=60s

	d0 := Decide(model.KindTimeout, 0, cfg, 0, 0)
	if d0.Delay != time.Second {
		t.Fatalf("expected 1s, got %v", d0.Delay)
	}
	d1 := Decide(model.KindTimeout, 1, cfg, 0, 0)
	if d1.Delay != 2*time.Second {
		t.Fatalf("expected 2s, got %v", d1.Delay)
	}
	d2 := Decide(model.KindTimeout, 2, cfg, 0, 0)
	if d2.Delay != 4*time.Second {
		t.Fatalf("expected 4s, got %v", d2.Delay)
	}
}

func TestIOErrorBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := model.RetryConfig{MaxAttempts: 10, BaseDelay: time.Second, Multiplier: 2.0, MaxDelay: 5 * time.Second}
	d := Decide(model.KindIOError, 5, cfg, 0, 0)
	if d.Delay != 5*time.Second {
		t.Fatalf("expected capped at 5s, got %v", d.Delay)
	}
}

func TestTimeoutStopsAtMaxAttempts(t *testing.T) {
	cfg := model.DefaultRetryConfig()
	d := Decide(model.KindTimeout, cfg.MaxAttempts, cfg, 0, 0)
	if d.Retry {
		t.Fatalf("expected stop, got %+v", d)
	}
}

func TestAgentErrorOnlyRetriesConfiguredExitCodes(t *testing.T) {
	cfg := model.DefaultRetryConfig()
	cfg.RetriableExitCodes = []int{75}

	d := Decide(model.KindAgentError, 0, cfg, 75, 0)
	if !d.Retry {
		t.Fatal("expected retry for configured exit code")
	}

	d = Decide(model.KindAgentError, 0, cfg, 1, 0)
	if d.Retry {
		t.Fatal("expected stop for non-configured exit code")
	}
}

func TestAgentErrorDefaultConfigNeverRetries(t *testing.T) {
	cfg := model.DefaultRetryConfig()
	d := Decide(model.KindAgentError, 0, cfg, 1, 0)
	if d.Retry {
		t.Fatal("expected stop: default RetriableExitCodes is empty")
	}
}

func TestNonRetriableKindsNeverRetry(t *testing.T) {
	cfg := model.DefaultRetryConfig()
	for _, kind := range []model.Kind{model.KindParseError, model.KindPromptReference, model.KindValidation} {
		if d := Decide(kind, 0, cfg, 0, 0); d.Retry {
			t.Fatalf("expected %v to never retry, got %+v", kind, d)
		}
	}
}
