package jsonrpc

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeFrame_OneLine(t *testing.T) {
	req := NewRequest("1", "tools/call", map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"message": "a\nb"},
	})

	data, err := EncodeFrame(req)
	if err != nil {
		t.Fatal(err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("frame does not end in newline")
	}
	if n := bytes.Count(data, []byte("\n")); n != 1 {
		t.Errorf("frame contains %d newlines, want 1", n)
	}
}

func TestDecodeMessage_Response(t *testing.T) {
	line := []byte(`{"jsonrpc":"2.0","id":"7","result":{"tools":[]}}` + "\r\n")

	m, err := DecodeMessage(line)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsResponse() {
		t.Error("expected message to classify as response")
	}
	if m.IsNotification() {
		t.Error("response misclassified as notification")
	}
	resp := m.Response()
	if resp.ID != "7" {
		t.Errorf("ID = %q, want %q", resp.ID, "7")
	}
	if err := resp.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestDecodeMessage_NumericID(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":42,"result":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "42" {
		t.Errorf("ID = %q, want %q", m.ID, "42")
	}
}

func TestDecodeMessage_Notification(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsNotification() {
		t.Error("expected message to classify as notification")
	}
	if m.IsResponse() {
		t.Error("notification misclassified as response")
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"jsonrpc":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestResponse_Validate(t *testing.T) {
	cases := []struct {
		name    string
		resp    Response
		wantErr bool
	}{
		{"result only", Response{ID: "1", Result: json.RawMessage(`{}`)}, false},
		{"error only", Response{ID: "1", Error: &Error{Code: CodeMethodNotFound, Message: "nope"}}, false},
		{"both", Response{ID: "1", Result: json.RawMessage(`{}`), Error: &Error{Code: 1}}, true},
		{"neither", Response{ID: "1"}, true},
		{"null result counts as present", Response{ID: "1", Result: json.RawMessage(`null`)}, false},
	}
	for _, tc := range cases {
		err := tc.resp.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestError_Error(t *testing.T) {
	e := &Error{Code: -32601, Message: "Tool 'nonexistent' not found"}
	msg := e.Error()
	if !strings.Contains(msg, "-32601") || !strings.Contains(msg, "not found") {
		t.Errorf("Error() = %q, missing code or message", msg)
	}
}

func TestID_MarshalRoundTrip(t *testing.T) {
	data, err := json.Marshal(ID("15"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"15"` {
		t.Errorf("marshaled id = %s, want %q", data, `"15"`)
	}
}

func TestNewNotification_OmitsID(t *testing.T) {
	data, err := json.Marshal(NewNotification("notifications/initialized", nil))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte(`"id"`)) {
		t.Errorf("notification carries an id: %s", data)
	}
	if bytes.Contains(data, []byte(`"params"`)) {
		t.Errorf("nil params serialized: %s", data)
	}
}
