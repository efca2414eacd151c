package main

import (
	"encoding/json"
	"testing"
)

func TestWireMessageDataRoundTrip(t *testing.T) {
	msg := wireMessage{Data: "hello"}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded wireMessage
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Data != "hello" {
		t.Errorf("Data = %q, want %q", decoded.Data, "hello")
	}
	if decoded.Error != "" || decoded.Resize != nil || decoded.Close {
		t.Errorf("unexpected fields set on decoded message: %+v", decoded)
	}
}

func TestWireMessageResizeEncoding(t *testing.T) {
	msg := wireMessage{Resize: &wireResize{Width: 100, Height: 40}}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	resize, ok := raw["resize"].(map[string]any)
	if !ok {
		t.Fatalf("resize field missing or wrong type: %v", raw)
	}
	if resize["width"] != float64(100) || resize["height"] != float64(40) {
		t.Errorf("resize = %v, want width=100 height=40", resize)
	}
	if _, hasData := raw["data"]; hasData {
		t.Error("empty data field should be omitted")
	}
}

func TestWireMessageErrorFrame(t *testing.T) {
	data := []byte(`{"error":"permission denied"}`)
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Error != "permission denied" {
		t.Errorf("Error = %q, want %q", msg.Error, "permission denied")
	}
}
