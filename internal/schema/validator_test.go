package schema

import (
	"errors"
	"strings"
	"testing"

	"call-transcription-service/internal/models"
)

func TestValidate_StartRequest(t *testing.T) {
	v := New()

	tests := []struct {
		name      string
		req       models.StartRequest
		wantField string
	}{
		{"valid", models.StartRequest{CallID: "CA123", Metadata: map[string]string{"agent": "42"}}, ""},
		{"missing callId", models.StartRequest{}, "callId"},
		{"bad characters", models.StartRequest{CallID: "call 1/2"}, "callId"},
		{"too long", models.StartRequest{CallID: strings.Repeat("a", 129)}, "callId"},
		{"metadata key too long", models.StartRequest{CallID: "c", Metadata: map[string]string{strings.Repeat("k", 65): "v"}}, "metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			found := false
			for field := range verr.Fields {
				if strings.HasPrefix(field, tt.wantField) {
					found = true
				}
			}
			if !found {
				t.Errorf("Fields = %v, want an entry for %s", verr.Fields, tt.wantField)
			}
		})
	}
}

func TestValidate_Frame(t *testing.T) {
	v := New()

	if err := v.Validate(models.Frame{CallID: "CA1", Payload: "//8="}); err != nil {
		t.Errorf("valid frame: %v", err)
	}
	err := v.Validate(models.Frame{CallID: "CA1"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["payload"] != "is required" {
		t.Errorf("Validate() error = %v, want payload required", err)
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "is required", "a": "must be at most 3"}}
	want := "validation failed: a: must be at most 3; b: is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidate_NonStruct(t *testing.T) {
	if err := New().Validate("not a struct"); err == nil {
		t.Error("expected error for non-struct input")
	}
}
