package config

import (
	"testing"
	"time"
)

func TestDefaultsAndDurations(t *testing.T) {
	cfg := Default()
	if got := cfg.ArrivalBuffer(); got != 90*time.Minute {
		t.Fatalf("arrival buffer default: %v", got)
	}
	if got := cfg.Window(); got != 15*time.Minute {
		t.Fatalf("window default: %v", got)
	}

	cfg, err := FromYAML([]byte("escalation:\n  arrival_buffer: 2h\n  window: 10m\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.ArrivalBuffer(); got != 2*time.Hour {
		t.Fatalf("arrival buffer: %v", got)
	}
	if got := cfg.Window(); got != 10*time.Minute {
		t.Fatalf("window: %v", got)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := []string{
		"escalation:\n  window: nonsense\n",
		"escalation:\n  window: -5m\n",
		"escalation:\n  supervisors:\n    - name: boss\n",
		"notifications:\n  templates:\n    no_such_key: x\n",
	}
	for _, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestTemplateLookupFallsBackToKey(t *testing.T) {
	cfg := Default()
	if got := cfg.Template(TemplateWakeupReminder); got != "crew_wakeup" {
		t.Fatalf("mapped template: %s", got)
	}
	cfg.Notifications.Templates = nil
	if got := cfg.Template(TemplateWakeupReminder); got != TemplateWakeupReminder {
		t.Fatalf("fallback template: %s", got)
	}
}
