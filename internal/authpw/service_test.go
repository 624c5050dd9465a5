package authpw

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"insight/api/internal/store"
)

type fakeUserStore struct {
	users  map[string]store.User
	resets map[string]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]store.User{}, resets: map[string]string{}}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if user, ok := f.users[email]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	for email, user := range f.users {
		if user.ID == userID {
			user.VerificationToken = token
			f.users[email] = user
		}
	}
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for email, user := range f.users {
		if user.VerificationToken == token {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[email] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	for email, user := range f.users {
		if user.ID == userID {
			user.PasswordHash = passwordHash
			f.users[email] = user
		}
	}
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if userID, ok := f.resets[token]; ok {
		return userID, nil
	}
	return "", sql.ErrNoRows
}

func (f *fakeUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	delete(f.resets, token)
	return nil
}

func TestSignUpThenVerifyThenSignIn(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "Owner@Example.com", Password: "password123", DisplayName: "Owner"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if resp.VerificationToken == "" {
		t.Fatal("expected verification token")
	}

	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "owner@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("expected verification requirement before verify")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "owner@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("sign in after verify: %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("expected verified sign-in")
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@b.c", Password: "short", DisplayName: "A"}); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password123", DisplayName: "A"}); err != nil {
		t.Fatalf("first sign up: %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password123", DisplayName: "A"}); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestResetPasswordFlow(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	signUp, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password123", DisplayName: "A"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(ctx, signUp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "a@b.c")
	if err != nil || token == "" {
		t.Fatalf("request reset: token=%q err=%v", token, err)
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword1"}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "password123"}); err == nil {
		t.Fatal("old password should be rejected")
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "newpassword1"}); err != nil {
		t.Fatalf("new password sign in: %v", err)
	}
}

func TestResetForUnknownEmailIsSilent(t *testing.T) {
	svc := NewService(newFakeUserStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected silent empty token, got token=%q err=%v", token, err)
	}
}
