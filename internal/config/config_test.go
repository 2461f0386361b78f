package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/wellbeam/checkin-backend/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/wellbeam_test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("RESEND_API_KEY", "re_test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	c, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != "8080" {
		t.Errorf("port: got %s, want 8080", c.Port)
	}
	if c.AlertRecipientWindow != time.Hour {
		t.Errorf("recipient window: got %s, want 1h", c.AlertRecipientWindow)
	}
	if c.AlertUserWindow != time.Hour {
		t.Errorf("user window: got %s, want 1h", c.AlertUserWindow)
	}
	if c.JobTimeout != 5*time.Minute {
		t.Errorf("job timeout: got %s, want 5m", c.JobTimeout)
	}
}

func TestLoad_MissingRequiredFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("RESEND_API_KEY", "")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected an error when required vars are missing")
	}
}

func TestLoad_DurationSyntax(t *testing.T) {
	setRequired(t)
	t.Setenv("ALERT_RECIPIENT_WINDOW", "90m")
	t.Setenv("ALERT_USER_WINDOW", "30m")
	t.Setenv("JOB_TIMEOUT", "2m30s")

	c, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.AlertRecipientWindow != 90*time.Minute {
		t.Errorf("recipient window: got %s, want 90m", c.AlertRecipientWindow)
	}
	if c.AlertUserWindow != 30*time.Minute {
		t.Errorf("user window: got %s, want 30m", c.AlertUserWindow)
	}
	if c.JobTimeout != 2*time.Minute+30*time.Second {
		t.Errorf("job timeout: got %s, want 2m30s", c.JobTimeout)
	}
}

// A bare number is ambiguous — "60" could plausibly mean seconds or minutes
// depending on which window it configures. Startup fails loudly instead of
// guessing.
func TestLoad_BareNumberDurationFailsStartup(t *testing.T) {
	setRequired(t)
	t.Setenv("ALERT_RECIPIENT_WINDOW", "60")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected an error for a unitless duration")
	}
	if !strings.Contains(err.Error(), "ALERT_RECIPIENT_WINDOW") {
		t.Errorf("error should name the offending variable: %v", err)
	}
}
