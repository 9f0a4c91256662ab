package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeEventValidates(t *testing.T) {
	if _, err := encodeEvent(Event{Type: "job.exploded", JobID: "j1"}); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}
	if _, err := encodeEvent(Event{Type: EventJobCompleted}); err == nil {
		t.Fatalf("expected missing job id to be rejected")
	}
}

func TestEncodeEventDefaultsTimestamp(t *testing.T) {
	body, err := encodeEvent(Event{Type: EventJobFailed, JobID: "j1", UserID: "u1", Error: "model timeout"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.At.IsZero() || time.Since(decoded.At) > time.Minute {
		t.Fatalf("expected fresh timestamp, got %s", decoded.At)
	}
	if decoded.Error != "model timeout" || decoded.JobID != "j1" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
}

func TestNewAMQPNotifierRequiresURL(t *testing.T) {
	if _, err := NewAMQPNotifier(" ", ""); err == nil {
		t.Fatalf("expected missing url to fail")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), Event{Type: EventJobCompleted, JobID: "j1"}); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
}
