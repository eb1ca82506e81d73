package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/passkey"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/user"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func createTestUser(t *testing.T, store *Store, email string) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{
		Email:      email,
		ExternalID: "ext-" + email,
		CreatedAt:  testTime(),
		UpdatedAt:  testTime(),
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestUser(t, store, "user@example.com")

	_, err := store.CreateUser(ctx, user.User{
		Email:      "USER@example.com",
		ExternalID: "other-ext",
		CreatedAt:  testTime(),
		UpdatedAt:  testTime(),
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("CreateUser() with case-variant email error = %v, want ErrDuplicate", err)
	}
}

func TestGetUserByEmailCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := createTestUser(t, store, "user@example.com")

	got, err := store.GetUserByEmail(ctx, "User@Example.COM")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("GetUserByEmail() ID = %d, want %d", got.ID, created.ID)
	}
	if !got.CreatedAt.Equal(testTime()) {
		t.Errorf("GetUserByEmail() CreatedAt = %v, want %v", got.CreatedAt, testTime())
	}
}

func TestGetUserByIDMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetUserByID(context.Background(), 9999)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

func TestAddAuthMethodConflictReturnsNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := createTestUser(t, store, "first@example.com")
	second := createTestUser(t, store, "second@example.com")

	m1, err := store.AddAuthMethod(ctx, user.AuthMethod{
		UserID:     first.ID,
		Type:       user.AuthTypeApple,
		ExternalID: "apple-sub-1",
		IsPrimary:  true,
		CreatedAt:  testTime(),
	})
	if err != nil {
		t.Fatalf("AddAuthMethod() error = %v", err)
	}
	if m1 == nil || m1.ID == 0 {
		t.Fatalf("AddAuthMethod() = %+v, want inserted row", m1)
	}

	m2, err := store.AddAuthMethod(ctx, user.AuthMethod{
		UserID:     second.ID,
		Type:       user.AuthTypeApple,
		ExternalID: "apple-sub-1",
		CreatedAt:  testTime(),
	})
	if err != nil {
		t.Fatalf("AddAuthMethod() conflict error = %v", err)
	}
	if m2 != nil {
		t.Errorf("AddAuthMethod() conflict = %+v, want nil", m2)
	}

	existing, err := store.GetAuthMethodByExternalID(ctx, user.AuthTypeApple, "apple-sub-1")
	if err != nil {
		t.Fatalf("GetAuthMethodByExternalID() error = %v", err)
	}
	if existing.UserID != first.ID {
		t.Errorf("conflicting external id owned by user %d, want %d", existing.UserID, first.ID)
	}

	// The uniqueness constraint is per auth type, so the same external id
	// under a different type inserts cleanly.
	m3, err := store.AddAuthMethod(ctx, user.AuthMethod{
		UserID:     second.ID,
		Type:       user.AuthTypePasskey,
		ExternalID: "apple-sub-1",
		CreatedAt:  testTime(),
	})
	if err != nil {
		t.Fatalf("AddAuthMethod() different type error = %v", err)
	}
	if m3 == nil || m3.ID == 0 {
		t.Fatalf("AddAuthMethod() different type = %+v, want inserted row", m3)
	}
	inserted, err := store.GetAuthMethodByExternalID(ctx, user.AuthTypePasskey, "apple-sub-1")
	if err != nil {
		t.Fatalf("GetAuthMethodByExternalID() passkey error = %v", err)
	}
	if inserted.UserID != second.ID {
		t.Errorf("passkey method owned by user %d, want %d", inserted.UserID, second.ID)
	}
}

func newTestCredential(id byte) passkey.Credential {
	return passkey.Credential{
		CredentialID: []byte{id, 0x02, 0x03, 0x04},
		PublicKey:    []byte("public-key"),
		Counter:      1,
		DeviceType:   passkey.DeviceTypeMulti,
		BackedUp:     true,
		Transports:   []string{"internal", "hybrid"},
		CreatedAt:    testTime(),
	}
}

func TestCreatePasskeyIdentityNewUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner, cred, err := store.CreatePasskeyIdentity(ctx, storage.NewPasskeyIdentity{
		User: &user.User{
			Email:      "passkey@example.com",
			ExternalID: "ext-passkey",
			CreatedAt:  testTime(),
			UpdatedAt:  testTime(),
		},
		DeviceName: "iPhone",
		Credential: newTestCredential(0x01),
	})
	if err != nil {
		t.Fatalf("CreatePasskeyIdentity() error = %v", err)
	}
	if owner.ID == 0 {
		t.Error("CreatePasskeyIdentity() owner ID is zero")
	}
	if cred.AuthMethodID == 0 {
		t.Error("CreatePasskeyIdentity() credential AuthMethodID is zero")
	}
	if cred.DeviceName != "iPhone" {
		t.Errorf("CreatePasskeyIdentity() DeviceName = %q, want iPhone", cred.DeviceName)
	}

	resolved, err := store.GetUserByCredentialID(ctx, cred.CredentialID)
	if err != nil {
		t.Fatalf("GetUserByCredentialID() error = %v", err)
	}
	if resolved.ID != owner.ID {
		t.Errorf("GetUserByCredentialID() = %d, want %d", resolved.ID, owner.ID)
	}

	count, err := store.CountActiveAuthMethods(ctx, owner.ID)
	if err != nil {
		t.Fatalf("CountActiveAuthMethods() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountActiveAuthMethods() = %d, want 1", count)
	}
}

func TestCreatePasskeyIdentityDuplicateEmailRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestUser(t, store, "taken@example.com")

	cred := newTestCredential(0x05)
	_, _, err := store.CreatePasskeyIdentity(ctx, storage.NewPasskeyIdentity{
		User: &user.User{
			Email:      "taken@example.com",
			ExternalID: "another-ext",
			CreatedAt:  testTime(),
			UpdatedAt:  testTime(),
		},
		Credential: cred,
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("CreatePasskeyIdentity() error = %v, want ErrDuplicate", err)
	}

	if _, err := store.GetCredentialByCredentialID(ctx, cred.CredentialID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("credential persisted after failed transaction, lookup error = %v", err)
	}
}

func TestCreatePasskeyIdentityExistingUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "existing@example.com")

	owner, _, err := store.CreatePasskeyIdentity(ctx, storage.NewPasskeyIdentity{
		ExistingUserID: u.ID,
		DeviceName:     "MacBook",
		Credential:     newTestCredential(0x06),
	})
	if err != nil {
		t.Fatalf("CreatePasskeyIdentity() error = %v", err)
	}
	if owner.Email != "existing@example.com" {
		t.Errorf("CreatePasskeyIdentity() owner email = %q", owner.Email)
	}
}

func TestUpdateCounterNeverMovesBackward(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cred := newTestCredential(0x07)
	cred.Counter = 10
	_, stored, err := store.CreatePasskeyIdentity(ctx, storage.NewPasskeyIdentity{
		User: &user.User{
			Email:      "counter@example.com",
			ExternalID: "ext-counter",
			CreatedAt:  testTime(),
			UpdatedAt:  testTime(),
		},
		Credential: cred,
	})
	if err != nil {
		t.Fatalf("CreatePasskeyIdentity() error = %v", err)
	}

	usedAt := testTime().Add(time.Minute)
	if err := store.UpdateCounter(ctx, stored.CredentialID, 5, usedAt); err != nil {
		t.Fatalf("UpdateCounter() error = %v", err)
	}
	got, err := store.GetCredentialByCredentialID(ctx, stored.CredentialID)
	if err != nil {
		t.Fatalf("GetCredentialByCredentialID() error = %v", err)
	}
	if got.Counter != 10 {
		t.Errorf("counter after lower update = %d, want 10", got.Counter)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(usedAt) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, usedAt)
	}

	if err := store.UpdateCounter(ctx, stored.CredentialID, 25, usedAt.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateCounter() error = %v", err)
	}
	got, err = store.GetCredentialByCredentialID(ctx, stored.CredentialID)
	if err != nil {
		t.Fatalf("GetCredentialByCredentialID() error = %v", err)
	}
	if got.Counter != 25 {
		t.Errorf("counter after higher update = %d, want 25", got.Counter)
	}
}

func TestDeactivatePasskey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner, cred, err := store.CreatePasskeyIdentity(ctx, storage.NewPasskeyIdentity{
		User: &user.User{
			Email:      "remove@example.com",
			ExternalID: "ext-remove",
			CreatedAt:  testTime(),
			UpdatedAt:  testTime(),
		},
		Credential: newTestCredential(0x08),
	})
	if err != nil {
		t.Fatalf("CreatePasskeyIdentity() error = %v", err)
	}
	other := createTestUser(t, store, "other@example.com")

	ok, err := store.DeactivatePasskey(ctx, other.ID, cred.ID)
	if err != nil {
		t.Fatalf("DeactivatePasskey() error = %v", err)
	}
	if ok {
		t.Error("DeactivatePasskey() by non-owner = true, want false")
	}

	ok, err = store.DeactivatePasskey(ctx, owner.ID, cred.ID)
	if err != nil {
		t.Fatalf("DeactivatePasskey() error = %v", err)
	}
	if !ok {
		t.Fatal("DeactivatePasskey() by owner = false, want true")
	}

	if _, err := store.GetCredentialByCredentialID(ctx, cred.CredentialID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("credential still active after deactivation, lookup error = %v", err)
	}
	count, err := store.CountActiveAuthMethods(ctx, owner.ID)
	if err != nil {
		t.Fatalf("CountActiveAuthMethods() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountActiveAuthMethods() after deactivation = %d, want 0", count)
	}
}

func TestRenamePasskey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner, cred, err := store.CreatePasskeyIdentity(ctx, storage.NewPasskeyIdentity{
		User: &user.User{
			Email:      "rename@example.com",
			ExternalID: "ext-rename",
			CreatedAt:  testTime(),
			UpdatedAt:  testTime(),
		},
		DeviceName: "Old Name",
		Credential: newTestCredential(0x09),
	})
	if err != nil {
		t.Fatalf("CreatePasskeyIdentity() error = %v", err)
	}

	ok, err := store.RenamePasskey(ctx, owner.ID, cred.ID, "New Name")
	if err != nil {
		t.Fatalf("RenamePasskey() error = %v", err)
	}
	if !ok {
		t.Fatal("RenamePasskey() = false, want true")
	}
	got, err := store.GetCredentialByCredentialID(ctx, cred.CredentialID)
	if err != nil {
		t.Fatalf("GetCredentialByCredentialID() error = %v", err)
	}
	if got.DeviceName != "New Name" {
		t.Errorf("DeviceName = %q, want New Name", got.DeviceName)
	}

	ok, err = store.RenamePasskey(ctx, owner.ID+1, cred.ID, "Stolen")
	if err != nil {
		t.Fatalf("RenamePasskey() error = %v", err)
	}
	if ok {
		t.Error("RenamePasskey() by non-owner = true, want false")
	}
}

func TestConsumeChallengeOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := testTime()

	value := []byte("challenge-value-123")
	_, err := store.StoreChallenge(ctx, storage.Challenge{
		Challenge: value,
		Email:     "user@example.com",
		Type:      passkey.ChallengeTypeRegistration,
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("StoreChallenge() error = %v", err)
	}

	got, err := store.ConsumeChallenge(ctx, value, now)
	if err != nil {
		t.Fatalf("ConsumeChallenge() error = %v", err)
	}
	if got.Email != "user@example.com" || got.Type != passkey.ChallengeTypeRegistration {
		t.Errorf("ConsumeChallenge() = %+v", got)
	}

	if _, err := store.ConsumeChallenge(ctx, value, now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second ConsumeChallenge() error = %v, want ErrNotFound", err)
	}
}

func TestConsumeChallengeExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := testTime()

	value := []byte("expired-challenge")
	_, err := store.StoreChallenge(ctx, storage.Challenge{
		Challenge: value,
		Type:      passkey.ChallengeTypeAuthentication,
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("StoreChallenge() error = %v", err)
	}

	if _, err := store.ConsumeChallenge(ctx, value, now.Add(6*time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ConsumeChallenge() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestStoreChallengeCollision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := testTime()

	value := []byte("same-value")
	challenge := storage.Challenge{
		Challenge: value,
		Type:      passkey.ChallengeTypeRegistration,
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
	}
	if _, err := store.StoreChallenge(ctx, challenge); err != nil {
		t.Fatalf("StoreChallenge() error = %v", err)
	}
	if _, err := store.StoreChallenge(ctx, challenge); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("StoreChallenge() collision error = %v, want ErrDuplicate", err)
	}
}

func TestVerificationCodeLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := testTime()

	code, err := store.CreateCode(ctx, storage.VerificationCode{
		Email:     "codes@example.com",
		Code:      "123456",
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	got, err := store.LatestActiveCode(ctx, "CODES@example.com", now)
	if err != nil {
		t.Fatalf("LatestActiveCode() error = %v", err)
	}
	if got.ID != code.ID || got.Code != "123456" {
		t.Errorf("LatestActiveCode() = %+v", got)
	}

	attempts, err := store.IncrementAttempts(ctx, code.ID)
	if err != nil {
		t.Fatalf("IncrementAttempts() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("IncrementAttempts() = %d, want 1", attempts)
	}

	if err := store.MarkVerified(ctx, code.ID); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}
	if _, err := store.LatestActiveCode(ctx, "codes@example.com", now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LatestActiveCode() after verify error = %v, want ErrNotFound", err)
	}

	count, err := store.CountCodesSince(ctx, "codes@example.com", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountCodesSince() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountCodesSince() = %d, want 1", count)
	}
}

func TestLatestActiveCodeReturnsNewest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := testTime()

	for i, c := range []string{"111111", "222222"} {
		_, err := store.CreateCode(ctx, storage.VerificationCode{
			Email:     "multi@example.com",
			Code:      c,
			ExpiresAt: now.Add(5 * time.Minute),
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("CreateCode() error = %v", err)
		}
	}

	got, err := store.LatestActiveCode(ctx, "multi@example.com", now)
	if err != nil {
		t.Fatalf("LatestActiveCode() error = %v", err)
	}
	if got.Code != "222222" {
		t.Errorf("LatestActiveCode() code = %q, want 222222", got.Code)
	}
}

func TestSupersededCodesStayCountable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := testTime()

	for i, c := range []string{"111111", "222222", "333333"} {
		if i > 0 {
			if err := store.SupersedeActiveCodes(ctx, "rolling@example.com"); err != nil {
				t.Fatalf("SupersedeActiveCodes() error = %v", err)
			}
		}
		_, err := store.CreateCode(ctx, storage.VerificationCode{
			Email:     "rolling@example.com",
			Code:      c,
			ExpiresAt: now.Add(5 * time.Minute),
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("CreateCode() error = %v", err)
		}
	}

	count, err := store.CountCodesSince(ctx, "ROLLING@example.com", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountCodesSince() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountCodesSince() = %d, want 3", count)
	}

	got, err := store.LatestActiveCode(ctx, "rolling@example.com", now)
	if err != nil {
		t.Fatalf("LatestActiveCode() error = %v", err)
	}
	if got.Code != "333333" {
		t.Errorf("LatestActiveCode() code = %q, want 333333", got.Code)
	}
	if got.Superseded {
		t.Error("latest code reported superseded")
	}
}

func TestDeleteExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := testTime()

	_, err := store.CreateCode(ctx, storage.VerificationCode{
		Email:     "old@example.com",
		Code:      "000000",
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}
	_, err = store.StoreChallenge(ctx, storage.Challenge{
		Challenge: []byte("stale"),
		Type:      passkey.ChallengeTypeRegistration,
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("StoreChallenge() error = %v", err)
	}

	codes, err := store.DeleteExpiredCodes(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredCodes() error = %v", err)
	}
	if codes != 1 {
		t.Errorf("DeleteExpiredCodes() = %d, want 1", codes)
	}
	challenges, err := store.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredChallenges() error = %v", err)
	}
	if challenges != 1 {
		t.Errorf("DeleteExpiredChallenges() = %d, want 1", challenges)
	}
}

func TestHasActiveSubscription(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "sub@example.com")

	has, err := store.HasActiveSubscription(ctx, u.ID)
	if err != nil {
		t.Fatalf("HasActiveSubscription() error = %v", err)
	}
	if has {
		t.Error("HasActiveSubscription() with no row = true, want false")
	}

	if err := store.SetSubscriptionActive(ctx, u.ID, true); err != nil {
		t.Fatalf("SetSubscriptionActive() error = %v", err)
	}
	has, err = store.HasActiveSubscription(ctx, u.ID)
	if err != nil {
		t.Fatalf("HasActiveSubscription() error = %v", err)
	}
	if !has {
		t.Error("HasActiveSubscription() after set = false, want true")
	}
}
