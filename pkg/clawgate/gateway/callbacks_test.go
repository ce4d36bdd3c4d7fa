package gateway

import "testing"

func TestParseCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      string
		wantKind  CallbackKind
		wantParam string
		wantErr   bool
	}{
		{name: "approve", data: "approve:ap-123", wantKind: CallbackApprove, wantParam: "ap-123"},
		{name: "deny", data: "deny:ap-123", wantKind: CallbackDeny, wantParam: "ap-123"},
		{name: "feedback", data: "feedback:good", wantKind: CallbackFeedback, wantParam: "good"},
		{name: "workspace", data: "workspace:ws-1", wantKind: CallbackWorkspace, wantParam: "ws-1"},
		{name: "cancel", data: "cancel:t-9", wantKind: CallbackCancelTask, wantParam: "t-9"},
		{name: "unknown action", data: "launch:t-9", wantErr: true},
		{name: "missing param", data: "approve:", wantErr: true},
		{name: "no separator", data: "approve", wantErr: true},
		{name: "empty", data: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCallback(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Kind != tt.wantKind || got.Param != tt.wantParam {
				t.Errorf("expected {%d %q}, got {%d %q}", tt.wantKind, tt.wantParam, got.Kind, got.Param)
			}
		})
	}
}

func TestEncodeCallback_RoundTrip(t *testing.T) {
	t.Parallel()
	for kind, name := range callbackNames {
		data := EncodeCallback(kind, "param")
		got, err := ParseCallback(data)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got.Kind != kind || got.Param != "param" {
			t.Errorf("%s: round trip mismatch: %+v", name, got)
		}
	}
}
