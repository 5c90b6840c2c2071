package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("profile-%d", p.next), nil
}

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate profiles: %v", err)
	}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return now },
		IDProvider: &sequenceIDs{},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, &now
}

func stringPtr(value string) *string {
	return &value
}

func TestCreateStoresNullableFields(t *testing.T) {
	service, _ := newTestService(t)

	created, err := service.Create(context.Background(), NewProfile{
		UserID:    "user-1",
		Username:  stringPtr("ada.lovelace"),
		Tagline:   stringPtr("   "),
		AvatarURL: stringPtr("https://example.com/ada.png"),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != "profile-1" {
		t.Fatalf("unexpected profile id %q", created.ID)
	}
	if created.Tagline != nil || created.Bio != nil {
		t.Fatalf("expected blank fields to be stored as NULL, got %#v", created)
	}

	fetched, err := service.ByUsername(context.Background(), "ada.lovelace")
	if err != nil {
		t.Fatalf("by username failed: %v", err)
	}
	if fetched.UserID != "user-1" || fetched.AvatarURL == nil {
		t.Fatalf("unexpected fetched profile %#v", fetched)
	}
}

func TestCreateRejectsSecondProfileForUser(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.Create(context.Background(), NewProfile{UserID: "user-1"}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := service.Create(context.Background(), NewProfile{UserID: "user-1"}); !errors.Is(err, ErrProfileExists) {
		t.Fatalf("expected profile exists error, got %v", err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.Create(context.Background(), NewProfile{UserID: " "}); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected invalid profile error, got %v", err)
	}
	longName := strings.Repeat("a", maxUsernameLength+1)
	if _, err := service.Create(context.Background(), NewProfile{UserID: "user-1", Username: &longName}); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected invalid profile error for long username, got %v", err)
	}
}

func TestUpdateAppliesPartialChanges(t *testing.T) {
	service, now := newTestService(t)
	if _, err := service.Create(context.Background(), NewProfile{
		UserID:   "user-1",
		Username: stringPtr("ada"),
		Bio:      stringPtr("First programmer"),
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	*now = now.Add(time.Hour)
	updated, err := service.Update(context.Background(), "user-1", ProfileUpdate{
		Tagline: stringPtr("Analytical engines"),
		Bio:     stringPtr(""),
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Username == nil || *updated.Username != "ada" {
		t.Fatalf("expected username to be untouched, got %#v", updated.Username)
	}
	if updated.Tagline == nil || *updated.Tagline != "Analytical engines" {
		t.Fatalf("expected tagline to be set, got %#v", updated.Tagline)
	}
	if updated.Bio != nil {
		t.Fatalf("expected bio to be cleared, got %q", *updated.Bio)
	}
	if !updated.UpdatedAt.Equal(*now) {
		t.Fatalf("expected updated_at %v, got %v", *now, updated.UpdatedAt)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("expected updated_at to move past created_at")
	}
}

func TestUpdateMissingProfile(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Update(context.Background(), "ghost", ProfileUpdate{Tagline: stringPtr("boo")})
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLookupsReportNotFound(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.ByUserID(context.Background(), "user-1"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected not found by user id, got %v", err)
	}
	if _, err := service.ByUsername(context.Background(), "nonexistent"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected not found by username, got %v", err)
	}
}
