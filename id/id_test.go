package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/tether/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"LeaseID", id.NewLeaseID, "lease_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"EventID", id.NewEventID, "evt_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"JobID", id.NewJobID, id.ParseJobID},
		{"LeaseID", id.NewLeaseID, id.ParseLeaseID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
		{"EventID", id.NewEventID, id.ParseEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if !parsed.Equal(original) {
				t.Errorf("round-trip mismatch: %q != %q", parsed, original)
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseJobID(id.NewLeaseID().String()); err == nil {
		t.Error("ParseJobID accepted a lease token")
	}
	if _, err := id.ParseLeaseID(id.NewJobID().String()); err == nil {
		t.Error("ParseLeaseID accepted a job id")
	}
}

func TestParseOptional(t *testing.T) {
	got, err := id.ParseOptional("", id.PrefixLease)
	if err != nil {
		t.Fatalf("ParseOptional(empty): %v", err)
	}
	if !got.IsNil() {
		t.Errorf("expected Nil, got %q", got)
	}

	tok := id.NewLeaseID()
	got, err = id.ParseOptional(tok.String(), id.PrefixLease)
	if err != nil {
		t.Fatalf("ParseOptional: %v", err)
	}
	if !got.Equal(tok) {
		t.Errorf("got %q, want %q", got, tok)
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if !i.Equal(id.Nil) {
		t.Error("zero value should equal Nil")
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		ID    id.ID `json:"id"`
		Token id.ID `json:"token"`
	}
	in := wrapper{ID: id.NewJobID()}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.ID.Equal(in.ID) {
		t.Errorf("ID = %q, want %q", out.ID, in.ID)
	}
	if !out.Token.IsNil() {
		t.Errorf("Token = %q, want Nil", out.Token)
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewJobID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if !scanned.Equal(original) {
		t.Errorf("mismatch: %q != %q", scanned, original)
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}
	if err := scanned.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned.IsNil() {
		t.Error("expected nil after scan of nil")
	}
	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewJobID()
	b := id.NewJobID()
	if a.Equal(b) {
		t.Errorf("two consecutive NewJobID() calls returned the same ID: %q", a)
	}
}
