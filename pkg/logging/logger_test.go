package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestServiceFieldSurvivesEntryChains(t *testing.T) {
	logger := NewLoggerWithService("beacon")
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLevel(DebugLevel)

	logger.WithField("tenant_id", "t1").WithError(errors.New("boom")).Warn("something happened")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["service"] != "beacon" {
		t.Fatalf("service = %v, want beacon", entry["service"])
	}
	if entry["tenant_id"] != "t1" || entry["error"] != "boom" {
		t.Fatalf("chained fields lost: %v", entry)
	}
}

func TestExplicitServiceFieldWins(t *testing.T) {
	logger := NewLoggerWithService("beacon")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.WithField("service", "override").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["service"] != "override" {
		t.Fatalf("service = %v, want override", entry["service"])
	}
}
