package messages

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/store"
	"github.com/duoline/chatcore/internal/types"
)

// getTestDB connects to TEST_DATABASE_URL and truncates the core tables,
// mirroring the short-mode/no-DB guard used throughout the
// toolbridge-api integration suite.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if _, err := pool.Exec(context.Background(), `
		DELETE FROM message_reads;
		DELETE FROM messages;
		DELETE FROM conversation_participants;
		DELETE FROM conversations;
		DELETE FROM users;
	`); err != nil {
		pool.Close()
		t.Fatalf("failed to clean test database: %v", err)
	}

	return pool
}

func createTestUser(t *testing.T, pool *pgxpool.Pool, email string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO users (email, name, status, last_seen) VALUES ($1, $1, 'offline', now())
		RETURNING id`, email).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create test user %s: %v", email, err)
	}
	return id
}

func createTestConversation(t *testing.T, gw *store.Gateway, a, b int64) int64 {
	t.Helper()
	conv, err := gw.CreateP2PSerialized(context.Background(), a^b, a, b)
	if err != nil {
		t.Fatalf("failed to create test conversation: %v", err)
	}
	return conv.ID
}

// TestSendFansOutSentReads covers S1 (send & fan-out): Send creates a
// `sent` MessageRead for every other participant and none for the
// sender (§4.2, §8.1).
func TestSendFansOutSentReads(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := store.New(pool)
	svc := New(gw)
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-send@messages.test")
	bob := createTestUser(t, pool, "bob-send@messages.test")
	conv := createTestConversation(t, gw, alice, bob)

	dto, err := svc.Send(ctx, conv, alice, SendInput{Type: types.MessageText, Content: "hi bob"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(dto.ReadRows) != 1 || dto.ReadRows[0].UserID != bob || dto.ReadRows[0].Status != types.StatusSent {
		t.Fatalf("unexpected read rows: %+v", dto.ReadRows)
	}
	if dto.Sender == nil || dto.Sender.ID != alice {
		t.Fatalf("expected hydrated sender, got %+v", dto.Sender)
	}
}

// TestSendRejectsNonParticipant covers the §4.2 participant check: a
// caller outside the conversation must not be able to send into it.
func TestSendRejectsNonParticipant(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := store.New(pool)
	svc := New(gw)
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-forbid@messages.test")
	bob := createTestUser(t, pool, "bob-forbid@messages.test")
	eve := createTestUser(t, pool, "eve-forbid@messages.test")
	conv := createTestConversation(t, gw, alice, bob)

	_, err := svc.Send(ctx, conv, eve, SendInput{Type: types.MessageText, Content: "hi"})
	if apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

// TestMarkReadThenMarkDeliveredDoesNotRegress exercises the read-state
// machine end to end (§4.2, §8.2): once a message is read, replaying a
// delivered transition (as happens on reconnect backlog replay) must
// not move it backward.
func TestMarkReadThenMarkDeliveredDoesNotRegress(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := store.New(pool)
	svc := New(gw)
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-mr@messages.test")
	bob := createTestUser(t, pool, "bob-mr@messages.test")
	conv := createTestConversation(t, gw, alice, bob)

	dto, err := svc.Send(ctx, conv, alice, SendInput{Type: types.MessageText, Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := svc.MarkRead(ctx, []int64{dto.Message.ID}, bob); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	rows, err := svc.MarkDelivered(ctx, []int64{dto.Message.ID}, bob)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows transitioned backward, got %d", len(rows))
	}
}

// TestDeleteOnlyBySender covers §4.2/S3: only the sender may soft-delete
// their own message.
func TestDeleteOnlyBySender(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := store.New(pool)
	svc := New(gw)
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-del@messages.test")
	bob := createTestUser(t, pool, "bob-del@messages.test")
	conv := createTestConversation(t, gw, alice, bob)

	dto, err := svc.Send(ctx, conv, alice, SendInput{Type: types.MessageText, Content: "delete me"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := svc.Delete(ctx, dto.Message.ID, bob); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden for non-sender delete, got %v", err)
	}

	deleted, err := svc.Delete(ctx, dto.Message.ID, alice)
	if err != nil {
		t.Fatalf("Delete by sender: %v", err)
	}
	if !deleted.IsDeleted {
		t.Fatal("expected message to be marked deleted")
	}
}

// TestPaginateNewestFirst covers §4.7: Paginate returns messages
// newest-first and reports hasPrevious while older messages remain
// beyond the page.
func TestPaginateNewestFirst(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := store.New(pool)
	svc := New(gw)
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-page@messages.test")
	bob := createTestUser(t, pool, "bob-page@messages.test")
	conv := createTestConversation(t, gw, alice, bob)

	var lastID int64
	for i := 0; i < 3; i++ {
		dto, err := svc.Send(ctx, conv, alice, SendInput{Type: types.MessageText, Content: "msg"})
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		lastID = dto.Message.ID
	}

	page, err := svc.Paginate(ctx, conv, "", 2)
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("got %d messages, want 2", len(page.Data))
	}
	if page.Data[0].Message.ID != lastID {
		t.Fatalf("expected newest message first, got id %d want %d", page.Data[0].Message.ID, lastID)
	}
	if !page.HasPrevious {
		t.Fatal("expected HasPrevious=true with more messages left")
	}
}

// TestSearchFoldsCase covers §4.2: Search matches regardless of case,
// via Unicode case-folding, and only for a participant.
func TestSearchFoldsCase(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := store.New(pool)
	svc := New(gw)
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-search@messages.test")
	bob := createTestUser(t, pool, "bob-search@messages.test")
	eve := createTestUser(t, pool, "eve-search@messages.test")
	conv := createTestConversation(t, gw, alice, bob)

	if _, err := svc.Send(ctx, conv, alice, SendInput{Type: types.MessageText, Content: "Hello World"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	results, err := svc.Search(ctx, conv, bob, "hello", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	if _, err := svc.Search(ctx, conv, eve, "hello", 10); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden for non-participant search, got %v", err)
	}
}

// TestReadOnJoinMarksBacklogAsRead covers S2 (read-on-join): the hub's
// conversation.join path loads every message not yet at `read` for the
// joining user via the gateway's UnreadMessageIDs, then promotes them
// with MarkRead; this exercises that same pair the way
// handleConversationJoin does, without a live websocket (§4.6 step 3, S2).
func TestReadOnJoinMarksBacklogAsRead(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := store.New(pool)
	svc := New(gw)
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-join@messages.test")
	bob := createTestUser(t, pool, "bob-join@messages.test")
	conv := createTestConversation(t, gw, alice, bob)

	var sent []int64
	for i := 0; i < 3; i++ {
		dto, err := svc.Send(ctx, conv, alice, SendInput{Type: types.MessageText, Content: "msg"})
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		sent = append(sent, dto.Message.ID)
	}

	unreadIDs, err := gw.UnreadMessageIDs(ctx, conv, bob)
	if err != nil {
		t.Fatalf("UnreadMessageIDs: %v", err)
	}
	if len(unreadIDs) != len(sent) {
		t.Fatalf("got %d unread ids before join, want %d", len(unreadIDs), len(sent))
	}

	reads, err := svc.MarkRead(ctx, unreadIDs, bob)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(reads) != len(sent) {
		t.Fatalf("got %d promoted rows, want %d", len(reads), len(sent))
	}
	for _, r := range reads {
		if r.Status != types.StatusRead {
			t.Fatalf("expected status read, got %v", r.Status)
		}
	}

	afterJoin, err := gw.UnreadMessageIDs(ctx, conv, bob)
	if err != nil {
		t.Fatalf("UnreadMessageIDs after join: %v", err)
	}
	if len(afterJoin) != 0 {
		t.Fatalf("expected no unread ids left after joining, got %d", len(afterJoin))
	}
}
