package events

import (
	"testing"

	"github.com/duoline/chatcore/internal/types"
)

func TestGroupByConversation(t *testing.T) {
	reads := []*types.MessageRead{
		{MessageID: 1, UserID: 2, Status: types.StatusDelivered},
		{MessageID: 2, UserID: 2, Status: types.StatusDelivered},
		{MessageID: 3, UserID: 2, Status: types.StatusDelivered},
	}
	conversationOf := map[int64]int64{1: 10, 2: 10, 3: 20}

	grouped := GroupByConversation(reads, conversationOf)
	if len(grouped) != 2 {
		t.Fatalf("got %d groups, want 2", len(grouped))
	}
	if len(grouped[10]) != 2 {
		t.Fatalf("got %d reads for conversation 10, want 2", len(grouped[10]))
	}
	if len(grouped[20]) != 1 {
		t.Fatalf("got %d reads for conversation 20, want 1", len(grouped[20]))
	}
}
