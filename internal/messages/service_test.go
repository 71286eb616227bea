package messages

import (
	"testing"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/types"
)

func TestValidateText(t *testing.T) {
	if err := validate(SendInput{Type: types.MessageText, Content: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := validate(SendInput{Type: types.MessageText, Content: "   "}); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected validation error for blank text, got %v", err)
	}
}

func TestValidateMedia(t *testing.T) {
	if err := validate(SendInput{Type: types.MessageImage, MediaURL: "https://example.com/a.png"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := validate(SendInput{Type: types.MessageAudio}); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected validation error for missing mediaUrl, got %v", err)
	}
}

func TestValidateUnknownType(t *testing.T) {
	if err := validate(SendInput{Type: "video", Content: "x"}); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
}
