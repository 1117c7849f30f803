package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type vehicleQuery struct {
	VehicleType string `json:"vehicleType"`
	DataRequest string `json:"dataRequest"`
}

func TestEnvelopeJSON(t *testing.T) {
	env := New(map[string]any{"vehicleType": "bike"})
	env.ServerCommand = "vehicle"
	env.ClientMessageID = "c-1"

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	// 时间戳固定为毫秒精度的 ISO 格式
	if !strings.Contains(string(data), `"timestamp":"`+FormatTime(env.Timestamp)+`"`) {
		t.Fatalf("timestamp not in wire layout: %s", data)
	}
	if strings.Contains(string(data), "clientCommand") {
		t.Fatalf("empty fields must be omitted: %s", data)
	}

	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Failed to unmarshal envelope: %v", err)
	}
	if got.ServerCommand != "vehicle" || got.ClientMessageID != "c-1" {
		t.Fatalf("routing fields lost: %+v", got)
	}
	if !got.Timestamp.Equal(env.Timestamp) {
		t.Fatalf("timestamp mismatch: got %v, want %v", got.Timestamp, env.Timestamp)
	}
}

func TestEnvelopeLenientTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	cases := []struct {
		raw  string
		want time.Time
	}{
		{raw: `{"serverCommand":"vehicle","timestamp":1709281800000}`, want: at},
		{raw: `{"serverCommand":"vehicle","timestamp":"2024-03-01T08:30:00Z"}`, want: at},
		{raw: `{"serverCommand":"vehicle","timestamp":"yesterday"}`},
		{raw: `{"serverCommand":"vehicle","timestamp":{"at":"noon"}}`},
		{raw: `{"serverCommand":"vehicle","timestamp":null}`},
		{raw: `{"serverCommand":"vehicle"}`},
	}
	for _, tc := range cases {
		raw, want := tc.raw, tc.want
		var got Envelope
		if err := json.Unmarshal([]byte(raw), &got); err != nil {
			t.Errorf("%s: a bad timestamp must not fail the envelope: %v", raw, err)
			continue
		}
		if got.ServerCommand != "vehicle" {
			t.Errorf("%s: routing lost: %+v", raw, got)
		}
		if !got.Timestamp.Equal(want) {
			t.Errorf("%s: timestamp = %v, want %v", raw, got.Timestamp, want)
		}
	}
}

func TestStrippedKeepsRouting(t *testing.T) {
	env := New("payload")
	env.ClientMessageID = "c-2"
	cp := env.Stripped()
	if cp.Content != nil {
		t.Fatalf("expect content stripped, got %v", cp.Content)
	}
	if cp.ClientMessageID != "c-2" {
		t.Fatalf("expect id kept, got %q", cp.ClientMessageID)
	}
	if env.Content != "payload" {
		t.Fatal("original envelope must not change")
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	got, ok := ParseTime("2024-03-01T08:30:00.000Z")
	if !ok || !got.Equal(want) {
		t.Fatalf("expect %v, got %v (ok=%v)", want, got, ok)
	}
	for _, s := range []string{"2024-03-01T08:30:00Z", "2024-03-01", "hello", "2024-03-01T08:30:00.000+01:00"} {
		if _, ok := ParseTime(s); ok {
			t.Errorf("%q must not match the wire layout", s)
		}
	}
}

func TestAs(t *testing.T) {
	decoded := map[string]any{"vehicleType": "bike", "dataRequest": "wheels"}
	q, err := As[vehicleQuery](decoded)
	if err != nil {
		t.Fatal(err)
	}
	if q.VehicleType != "bike" || q.DataRequest != "wheels" {
		t.Fatalf("unexpected %+v", q)
	}

	n, err := As[int](float64(2))
	if err != nil || n != 2 {
		t.Fatalf("expect 2, got %d (%v)", n, err)
	}

	same, err := As[vehicleQuery](q)
	if err != nil || same != q {
		t.Fatalf("typed value must pass through, got %+v", same)
	}

	if _, err := As[int]("two"); err == nil {
		t.Fatal("expect decode error")
	}
}
