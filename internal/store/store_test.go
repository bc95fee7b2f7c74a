package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatrelay/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Message{}, &models.Reaction{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func fixedClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestMessageStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(setupTestDB(t))
	s.now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	first, err := s.Append(ctx, "global", "alice", "hi", models.KindText, "")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if first.ID == 0 {
		t.Error("Append() did not assign an id")
	}
	if first.Timestamp.Location() != time.UTC {
		t.Errorf("Append() timestamp location = %v, want UTC", first.Timestamp.Location())
	}
	second, err := s.Append(ctx, "global", "bob", "", models.KindImage, "data:image/png;base64,AAAA")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("Append() id = %d, want > %d", second.ID, first.ID)
	}
	if _, err := s.Append(ctx, "other", "carol", "elsewhere", models.KindText, ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	msgs, err := s.List(ctx, "global")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("List() len = %d, want 2", len(msgs))
	}
	if msgs[0].Text != "hi" || msgs[0].Author != "alice" || msgs[0].Kind != models.KindText {
		t.Errorf("List()[0] = %+v, want alice/hi/text", msgs[0])
	}
	if msgs[1].Kind != models.KindImage || msgs[1].ImageData == "" {
		t.Errorf("List()[1] = %+v, want image with payload", msgs[1])
	}

	empty, err := s.List(ctx, "nobody-here")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List() for empty room len = %d, want 0", len(empty))
	}
}

func TestMessageStore_Get(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(setupTestDB(t))

	msg, err := s.Append(ctx, "global", "alice", "hi", models.KindText, "")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := s.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ChatID != "global" || got.Text != "hi" {
		t.Errorf("Get() = %+v, want global/hi", got)
	}

	if _, err := s.Get(ctx, msg.ID+100); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}
}

func TestMessageStore_Page(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(setupTestDB(t))

	var ids []int64
	for _, text := range []string{"a", "b", "c", "d"} {
		m, err := s.Append(ctx, "global", "alice", text, models.KindText, "")
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		ids = append(ids, m.ID)
	}

	page, err := s.Page(ctx, "global", 2, 0)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if len(page) != 2 || page[0].Text != "c" || page[1].Text != "d" {
		t.Errorf("Page() latest = %+v, want c,d", page)
	}

	older, err := s.Page(ctx, "global", 10, ids[2])
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if len(older) != 2 || older[0].Text != "a" || older[1].Text != "b" {
		t.Errorf("Page() before = %+v, want a,b", older)
	}
}

func TestReactionStore_Uniqueness(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	msgs := NewMessageStore(db)
	s := NewReactionStore(db)

	msg, err := msgs.Append(ctx, "global", "alice", "hi", models.KindText, "")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	tests := []struct {
		name string
		op   func() (bool, error)
		want bool
	}{
		{"first add", func() (bool, error) { return s.Add(ctx, msg.ID, "bob", "👍") }, true},
		{"duplicate add", func() (bool, error) { return s.Add(ctx, msg.ID, "bob", "👍") }, false},
		{"other emoji", func() (bool, error) { return s.Add(ctx, msg.ID, "bob", "🎉") }, true},
		{"other user", func() (bool, error) { return s.Add(ctx, msg.ID, "carol", "👍") }, true},
		{"remove existing", func() (bool, error) { return s.Remove(ctx, msg.ID, "bob", "🎉") }, true},
		{"remove again", func() (bool, error) { return s.Remove(ctx, msg.ID, "bob", "🎉") }, false},
		{"remove never added", func() (bool, error) { return s.Remove(ctx, msg.ID, "dave", "👍") }, false},
	}
	for _, tt := range tests {
		got, err := tt.op()
		if err != nil {
			t.Fatalf("%s: error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReactionStore_GroupByMessage(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	msgs := NewMessageStore(db)
	s := NewReactionStore(db)

	m1, _ := msgs.Append(ctx, "global", "alice", "one", models.KindText, "")
	m2, _ := msgs.Append(ctx, "global", "alice", "two", models.KindText, "")
	other, _ := msgs.Append(ctx, "other", "alice", "three", models.KindText, "")

	for _, r := range []struct {
		id    int64
		user  string
		emoji string
	}{
		{m1.ID, "bob", "👍"},
		{m1.ID, "carol", "👍"},
		{m1.ID, "bob", "🎉"},
		{m2.ID, "alice", "❤️"},
		{other.ID, "bob", "👍"},
	} {
		if _, err := s.Add(ctx, r.id, r.user, r.emoji); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	got, err := s.GroupByMessage(ctx, "global")
	if err != nil {
		t.Fatalf("GroupByMessage() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GroupByMessage() len = %d, want 2", len(got))
	}
	if users := got[m1.ID]["👍"]; len(users) != 2 || users[0] != "bob" || users[1] != "carol" {
		t.Errorf("GroupByMessage()[m1][👍] = %v, want [bob carol]", users)
	}
	if users := got[m1.ID]["🎉"]; len(users) != 1 {
		t.Errorf("GroupByMessage()[m1][🎉] = %v, want [bob]", users)
	}
	if _, ok := got[other.ID]; ok {
		t.Error("GroupByMessage() leaked a reaction from another room")
	}
}
