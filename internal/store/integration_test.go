package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duoline/chatcore/internal/types"
)

// getTestDB connects to TEST_DATABASE_URL and truncates the core tables
// before handing the pool back, mirroring the short-mode/no-DB guard
// used throughout the toolbridge-api integration suite.
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

func createTestUser(t *testing.T, gw *Gateway, email string) *types.User {
	t.Helper()
	var id int64
	err := gw.pool.QueryRow(context.Background(), `
		INSERT INTO users (email, name, status, last_seen) VALUES ($1, $1, 'offline', now())
		RETURNING id`, email).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create test user %s: %v", email, err)
	}
	u, err := gw.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load test user %s: %v", email, err)
	}
	return u
}

// TestCreateMessageAndReadsFanOut covers S1 (send & fan-out): sending a
// message creates one `sent` MessageRead per other participant and
// touches the conversation's last_message_id (§8.1).
func TestCreateMessageAndReadsFanOut(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := New(pool)
	ctx := context.Background()

	alice := createTestUser(t, gw, "alice@store.test")
	bob := createTestUser(t, gw, "bob@store.test")

	conv, err := gw.CreateP2PSerialized(ctx, 42, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateP2PSerialized: %v", err)
	}

	msg, reads, err := gw.CreateMessageAndReads(ctx, CreateMessageInput{
		ConversationID: conv.ID,
		SenderID:       alice.ID,
		Type:           types.MessageText,
		Content:        "hello bob",
	}, []int64{alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("CreateMessageAndReads: %v", err)
	}

	if len(reads) != 1 {
		t.Fatalf("got %d read rows, want 1 (sender excluded)", len(reads))
	}
	if reads[0].UserID != bob.ID || reads[0].Status != types.StatusSent {
		t.Fatalf("unexpected read row: %+v", reads[0])
	}

	got, err := gw.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.LastMessageID == nil || *got.LastMessageID != msg.ID {
		t.Fatalf("expected last_message_id to be updated to %d, got %v", msg.ID, got.LastMessageID)
	}
}

// TestCreateP2PSerializedRace covers S5 (create-or-get race): concurrent
// callers racing the FindP2P-then-CreateP2PSerialized sequence that
// CreateOrGet1to1 uses, for the same pair and lock key, must all converge
// on exactly one conversation, serialized by the advisory lock (§5, S5).
func TestCreateP2PSerializedRace(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := New(pool)
	ctx := context.Background()

	alice := createTestUser(t, gw, "alice-race@store.test")
	bob := createTestUser(t, gw, "bob-race@store.test")

	const n = 8
	ids := make([]int64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			existing, err := gw.FindP2P(ctx, alice.ID, bob.ID)
			if err != nil {
				errs[i] = err
				return
			}
			if existing != nil {
				ids[i] = existing.ID
				return
			}
			conv, err := gw.CreateP2PSerialized(ctx, 4242, alice.ID, bob.ID)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("expected all goroutines to converge on one conversation, got %v", ids)
		}
	}
}

// TestTransitionReadsRefusesRegression covers the sent->delivered->read
// monotonicity invariant (§4.1, §4.2): once a row is read, demoting it
// back to delivered must be a no-op.
func TestTransitionReadsRefusesRegression(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	gw := New(pool)
	ctx := context.Background()

	alice := createTestUser(t, gw, "alice-reads@store.test")
	bob := createTestUser(t, gw, "bob-reads@store.test")
	conv, err := gw.CreateP2PSerialized(ctx, 43, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateP2PSerialized: %v", err)
	}
	msg, _, err := gw.CreateMessageAndReads(ctx, CreateMessageInput{
		ConversationID: conv.ID,
		SenderID:       alice.ID,
		Type:           types.MessageText,
		Content:        "hi",
	}, []int64{alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("CreateMessageAndReads: %v", err)
	}

	if _, err := gw.TransitionReads(ctx, []int64{msg.ID}, bob.ID, types.StatusRead); err != nil {
		t.Fatalf("TransitionReads to read: %v", err)
	}
	rows, err := gw.TransitionReads(ctx, []int64{msg.ID}, bob.ID, types.StatusDelivered)
	if err != nil {
		t.Fatalf("TransitionReads to delivered: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected regressing transition to be skipped, got %d rows", len(rows))
	}

	counts, err := gw.UnreadCounts(ctx, conv.ID, []int64{bob.ID})
	if err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	if counts[bob.ID] != 0 {
		t.Fatalf("expected bob's unread count to be 0 after reading, got %d", counts[bob.ID])
	}
}
