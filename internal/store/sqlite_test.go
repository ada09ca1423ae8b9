package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/domain"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "chats.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newChat(id, userID string, createdAt time.Time) *domain.Chat {
	return &domain.Chat{
		ID:        id,
		UserID:    userID,
		Title:     domain.PlaceholderTitle,
		Content:   []domain.Message{},
		CreatedAt: createdAt,
	}
}

func TestRebind(t *testing.T) {
	got := dialectPostgres.rebind(`UPDATE chats SET title = ?, is_visible = 1 WHERE id = ?`)
	want := `UPDATE chats SET title = $1, is_visible = 1 WHERE id = $2`
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if q := dialectSQLite.rebind("SELECT ?"); q != "SELECT ?" {
		t.Errorf("Expected sqlite query unchanged, got %q", q)
	}
}

func TestPostgresDSNKeyOverride(t *testing.T) {
	dsn, err := postgresDSN("postgres://app:old@db:5432/chats?sslmode=disable", "s3cret")
	if err != nil {
		t.Fatalf("postgresDSN failed: %v", err)
	}
	if dsn != "postgres://app:s3cret@db:5432/chats?sslmode=disable" {
		t.Errorf("Unexpected dsn %q", dsn)
	}

	plain, _ := postgresDSN("postgres://db/chats", "")
	if plain != "postgres://db/chats" {
		t.Errorf("Expected dsn unchanged without key, got %q", plain)
	}
}

func TestCreatedChatIsHiddenUntilTitled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := newChat("c1", "u1", time.Now())
	if err := s.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	chats, err := s.ListVisibleChats(ctx, "u1")
	if err != nil {
		t.Fatalf("ListVisibleChats failed: %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("Expected no visible chats, got %d", len(chats))
	}

	// Hidden chats stay loadable by id.
	got, err := s.GetChat(ctx, "c1")
	if err != nil || got == nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.IsVisible || got.Title != domain.PlaceholderTitle || len(got.Content) != 0 {
		t.Errorf("Unexpected chat %+v", got)
	}

	if err := s.SetTitleAndReveal(ctx, "c1", "Math question"); err != nil {
		t.Fatalf("SetTitleAndReveal failed: %v", err)
	}
	chats, _ = s.ListVisibleChats(ctx, "u1")
	if len(chats) != 1 || chats[0].Title != "Math question" {
		t.Fatalf("Expected titled chat to be listed, got %+v", chats)
	}
}

func TestListVisibleChatsNewestFirstAndOwned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		chat := newChat(id, "u1", base.Add(time.Duration(i)*time.Minute))
		chat.IsVisible = true
		chat.Title = id
		if err := s.CreateChat(ctx, chat); err != nil {
			t.Fatalf("CreateChat failed: %v", err)
		}
	}
	other := newChat("foreign", "u2", base)
	other.IsVisible = true
	_ = s.CreateChat(ctx, other)

	chats, err := s.ListVisibleChats(ctx, "u1")
	if err != nil {
		t.Fatalf("ListVisibleChats failed: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("Expected 3 chats, got %d", len(chats))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if chats[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, chats[i].ID)
		}
	}
}

func TestSaveContentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateChat(ctx, newChat("c1", "u1", time.Now()))

	content := []domain.Message{
		{Sender: domain.SenderUser, Text: "What is 2+2?"},
		{Sender: domain.SenderBot, Text: "4"},
	}
	if err := s.SaveContent(ctx, "c1", content); err != nil {
		t.Fatalf("SaveContent failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := s.GetChat(ctx, "c1")
		if err != nil {
			t.Fatalf("GetChat failed: %v", err)
		}
		if len(got.Content) != 2 || got.Content[1].Text != "4" || got.Content[0].Sender != domain.SenderUser {
			t.Errorf("Unexpected content %+v", got.Content)
		}
	}
}

func TestUpdatesOnMissingChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveContent(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from SaveContent, got %v", err)
	}
	if err := s.SoftDelete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from SoftDelete, got %v", err)
	}
	got, err := s.GetChat(ctx, "missing")
	if err != nil || got != nil {
		t.Errorf("Expected nil chat, got %+v (%v)", got, err)
	}
}

func TestSoftDeleteKeepsContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chat := newChat("c1", "u1", time.Now())
	chat.IsVisible = true
	chat.Title = "Kept"
	chat.Content = []domain.Message{{Sender: domain.SenderUser, Text: "hi"}}
	_ = s.CreateChat(ctx, chat)

	if err := s.SoftDelete(ctx, "c1"); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	chats, _ := s.ListVisibleChats(ctx, "u1")
	if len(chats) != 0 {
		t.Errorf("Expected deleted chat to be hidden, got %d", len(chats))
	}
	got, _ := s.GetChat(ctx, "c1")
	if got == nil || len(got.Content) != 1 {
		t.Errorf("Expected content to survive soft delete, got %+v", got)
	}
}

func TestPurgeStalePlaceholders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.CreateChat(ctx, newChat("stale", "u1", now.Add(-25*time.Hour)))
	_ = s.CreateChat(ctx, newChat("fresh", "u1", now.Add(-time.Hour)))
	titled := newChat("titled", "u1", now.Add(-48*time.Hour))
	titled.Title = "Named"
	_ = s.CreateChat(ctx, titled)

	n, err := s.PurgeStalePlaceholders(ctx, now.Add(-domain.PlaceholderRetention))
	if err != nil {
		t.Fatalf("PurgeStalePlaceholders failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 purged chat, got %d", n)
	}
	if got, _ := s.GetChat(ctx, "stale"); got != nil {
		t.Error("Expected stale placeholder to be deleted")
	}
	if got, _ := s.GetChat(ctx, "fresh"); got == nil {
		t.Error("Expected fresh placeholder to be kept")
	}
	if got, _ := s.GetChat(ctx, "titled"); got == nil {
		t.Error("Expected titled chat to be kept")
	}
}

func TestConsumeChallengeOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.CreateUser(ctx, &domain.User{ID: "u1", Email: "a@example.com", PasswordHash: "x", CreatedAt: now})
	_ = s.CreateFactor(ctx, &domain.Factor{ID: "f1", UserID: "u1", Type: domain.FactorTOTP, Status: domain.FactorUnverified, Secret: "S", CreatedAt: now})
	if err := s.CreateChallenge(ctx, &domain.Challenge{ID: "ch1", FactorID: "f1", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}); err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}

	if err := s.RecordChallengeAttempt(ctx, "ch1"); err != nil {
		t.Fatalf("RecordChallengeAttempt failed: %v", err)
	}
	ok, err := s.ConsumeChallenge(ctx, "ch1", now)
	if err != nil || !ok {
		t.Fatalf("Expected first consume to win, got %v (%v)", ok, err)
	}
	ok, _ = s.ConsumeChallenge(ctx, "ch1", now)
	if ok {
		t.Error("Expected second consume to lose")
	}

	ch, _ := s.GetChallenge(ctx, "ch1")
	if ch == nil || !ch.Consumed() || ch.Attempts != 1 {
		t.Errorf("Unexpected challenge %+v", ch)
	}

	if err := s.DeleteFactor(ctx, "f1"); err != nil {
		t.Fatalf("DeleteFactor failed: %v", err)
	}
	if ch, _ := s.GetChallenge(ctx, "ch1"); ch != nil {
		t.Error("Expected challenges removed with their factor")
	}
}

func TestCleanupExpiredAuth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.CreateSession(ctx, &domain.AuthSession{Token: "old", UserID: "u1", AAL: domain.AAL1, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)})
	_ = s.CreateSession(ctx, &domain.AuthSession{Token: "live", UserID: "u1", AAL: domain.AAL2, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	n, err := s.CleanupExpiredAuth(ctx, now)
	if err != nil {
		t.Fatalf("CleanupExpiredAuth failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 removed row, got %d", n)
	}
	if sess, _ := s.GetSession(ctx, "live"); sess == nil || sess.AAL != domain.AAL2 {
		t.Errorf("Expected live session kept, got %+v", sess)
	}
}

func TestPasswordChangeRevokesOtherSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.CreateUser(ctx, &domain.User{ID: "u1", Email: "a@example.com", PasswordHash: "old", CreatedAt: now}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	for _, tok := range []string{"keep", "other", "another"} {
		_ = s.CreateSession(ctx, &domain.AuthSession{Token: tok, UserID: "u1", AAL: domain.AAL1, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	}
	_ = s.CreateSession(ctx, &domain.AuthSession{Token: "stranger", UserID: "u2", AAL: domain.AAL1, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	if err := s.UpdatePassword(ctx, "u1", "new"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}
	if user, _ := s.GetUser(ctx, "u1"); user == nil || user.PasswordHash != "new" {
		t.Errorf("Expected updated hash, got %+v", user)
	}
	if err := s.UpdatePassword(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing user, got %v", err)
	}

	n, err := s.DeleteUserSessions(ctx, "u1", "keep")
	if err != nil {
		t.Fatalf("DeleteUserSessions failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 revoked sessions, got %d", n)
	}
	for tok, want := range map[string]bool{"keep": true, "other": false, "another": false, "stranger": true} {
		sess, _ := s.GetSession(ctx, tok)
		if (sess != nil) != want {
			t.Errorf("Session %s: expected present=%v", tok, want)
		}
	}
}
