package conversations

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/store"
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

// TestCreateOrGet1to1IsIdempotent covers S5: repeated CreateOrGet1to1
// calls for the same pair, in either order, must return the same
// conversation rather than creating duplicates (§4.3, §8.7).
func TestCreateOrGet1to1IsIdempotent(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(store.New(pool))
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-idem@conversations.test")
	bob := createTestUser(t, pool, "bob-idem@conversations.test")

	first, err := svc.CreateOrGet1to1(ctx, alice, bob)
	if err != nil {
		t.Fatalf("CreateOrGet1to1(alice, bob): %v", err)
	}
	second, err := svc.CreateOrGet1to1(ctx, bob, alice)
	if err != nil {
		t.Fatalf("CreateOrGet1to1(bob, alice): %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same conversation regardless of argument order, got %d and %d", first.ID, second.ID)
	}
}

// TestCreateOrGet1to1RefusesSelf covers the a==b edge case (§4.3).
func TestCreateOrGet1to1RefusesSelf(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(store.New(pool))
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-self@conversations.test")

	if _, err := svc.CreateOrGet1to1(ctx, alice, alice); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation error for a==b, got %v", err)
	}
}

// TestCreateOrGet1to1ConcurrentRace covers S5 under real concurrency:
// many goroutines racing CreateOrGet1to1 for the same pair must all
// converge on one conversation (§5, §8.7).
func TestCreateOrGet1to1ConcurrentRace(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(store.New(pool))
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-cr@conversations.test")
	bob := createTestUser(t, pool, "bob-cr@conversations.test")

	const n = 8
	ids := make([]int64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			conv, err := svc.CreateOrGet1to1(ctx, alice, bob)
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

// TestGetRefusesNonParticipant covers §4.3: Get must refuse a caller
// who is not one of the conversation's two participants.
func TestGetRefusesNonParticipant(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(store.New(pool))
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-get@conversations.test")
	bob := createTestUser(t, pool, "bob-get@conversations.test")
	eve := createTestUser(t, pool, "eve-get@conversations.test")

	conv, err := svc.CreateOrGet1to1(ctx, alice, bob)
	if err != nil {
		t.Fatalf("CreateOrGet1to1: %v", err)
	}

	if _, err := svc.Get(ctx, conv.ID, eve); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden for non-participant Get, got %v", err)
	}

	dto, err := svc.Get(ctx, conv.ID, alice)
	if err != nil {
		t.Fatalf("Get as participant: %v", err)
	}
	if len(dto.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(dto.Participants))
	}
}

// TestListPageOrdersNewestFirst covers §6: ListPage with no cursor
// returns the caller's conversations newest-activity-first.
func TestListPageOrdersNewestFirst(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(store.New(pool))
	ctx := context.Background()

	alice := createTestUser(t, pool, "alice-list@conversations.test")
	bob := createTestUser(t, pool, "bob-list@conversations.test")
	carol := createTestUser(t, pool, "carol-list@conversations.test")

	if _, err := svc.CreateOrGet1to1(ctx, alice, bob); err != nil {
		t.Fatalf("CreateOrGet1to1(alice,bob): %v", err)
	}
	second, err := svc.CreateOrGet1to1(ctx, alice, carol)
	if err != nil {
		t.Fatalf("CreateOrGet1to1(alice,carol): %v", err)
	}

	page, err := svc.ListPage(ctx, alice, "", "", 10)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("got %d conversations, want 2", len(page.Data))
	}
	if page.Data[0].Conversation.ID != second.ID {
		t.Fatalf("expected most recently created conversation first, got %d want %d", page.Data[0].Conversation.ID, second.ID)
	}
}
