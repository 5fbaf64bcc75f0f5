package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dukerupert/roomie/internal/auth"
	"github.com/dukerupert/roomie/internal/model"
	"github.com/dukerupert/roomie/internal/store"
)

type sentMail struct {
	kind, to, code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) record(kind, to, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{kind, to, code})
	return nil
}

func (f *fakeMailer) SendConfirmation(_ context.Context, to, code string) error {
	return f.record("confirm", to, code)
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, to, code string) error {
	return f.record("reset", to, code)
}

func (f *fakeMailer) last(t *testing.T, kind string) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].kind == kind {
			return f.sent[i]
		}
	}
	t.Fatalf("no %s mail sent", kind)
	return sentMail{}
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type accountEnv struct {
	*testEnv
	sessions *store.SessionStore
	mailer   *fakeMailer
	handler  *AccountHandler
	mux      *http.ServeMux
}

func setupAccount(t *testing.T, mailer *fakeMailer) *accountEnv {
	t.Helper()
	env := setupEnv(t)
	ae := &accountEnv{
		testEnv:  env,
		sessions: store.NewSessionStore(env.db, 0),
		mailer:   mailer,
	}
	var m Mailer
	if mailer != nil {
		m = mailer
	}
	ae.handler = NewAccountHandler(env.profiles, store.NewEmailTokenStore(env.db), ae.sessions, m, quietLogger())

	ae.mux = http.NewServeMux()
	ae.mux.HandleFunc("POST /api/password/forgot", ae.handler.ForgotPassword)
	ae.mux.HandleFunc("POST /api/password/reset", ae.handler.ResetPassword)
	ae.mux.HandleFunc("POST /api/email/confirm", ae.handler.ConfirmEmail)
	ae.mux.HandleFunc("POST /api/email/resend", ae.handler.ResendConfirmation)
	return ae
}

func (ae *accountEnv) do(method, target string, body any) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ae.mux.ServeHTTP(rec, ae.request(method, target, body))
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestForgotAndResetPassword(t *testing.T) {
	ae := setupAccount(t, &fakeMailer{})
	ctx := context.Background()
	old, _ := ae.sessions.Create(ctx, ae.user.ID)

	if rec := ae.do("POST", "/api/password/forgot", map[string]string{"email": " ANNA@example.com "}); rec.Code != http.StatusAccepted {
		t.Fatalf("forgot status = %d, body %s", rec.Code, rec.Body)
	}
	mail := ae.mailer.last(t, "reset")
	if mail.to != "anna@example.com" || len(mail.code) != 6 {
		t.Fatalf("mail = %+v", mail)
	}

	rec := ae.do("POST", "/api/password/reset", map[string]string{"email": "anna@example.com", "code": "000000", "password": "neues-passwort"})
	if rec.Code != http.StatusBadRequest || errorMessage(t, rec) != "incorrect code" {
		t.Fatalf("wrong code status = %d", rec.Code)
	}

	rec = ae.do("POST", "/api/password/reset", map[string]string{"email": "anna@example.com", "code": mail.code, "password": "neues-passwort"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d, body %s", rec.Code, rec.Body)
	}
	_, hash, _ := ae.profiles.PasswordHash(ctx, "anna@example.com")
	if !auth.CheckPassword(hash, "neues-passwort") {
		t.Error("new password does not verify")
	}
	if sess, _ := ae.sessions.GetByToken(ctx, old.Token); sess != nil {
		t.Error("session survived the password reset")
	}

	rec = ae.do("POST", "/api/password/reset", map[string]string{"email": "anna@example.com", "code": mail.code, "password": "noch-ein-passwort"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reused code status = %d, want 400", rec.Code)
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	ae := setupAccount(t, &fakeMailer{})

	if rec := ae.do("POST", "/api/password/forgot", map[string]string{"email": "nobody@example.com"}); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if n := ae.mailer.count(); n != 0 {
		t.Errorf("sent %d mails for an unknown address", n)
	}
	if rec := ae.do("POST", "/api/password/forgot", map[string]string{"email": "not-an-address"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d, want 400", rec.Code)
	}
}

func TestForgotPasswordMailFailureIsHidden(t *testing.T) {
	ae := setupAccount(t, &fakeMailer{err: errors.New("postmark down")})

	if rec := ae.do("POST", "/api/password/forgot", map[string]string{"email": "anna@example.com"}); rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestResetPasswordLocksAfterWrongCodes(t *testing.T) {
	ae := setupAccount(t, &fakeMailer{})
	ae.do("POST", "/api/password/forgot", map[string]string{"email": "anna@example.com"})
	code := ae.mailer.last(t, "reset").code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	var last string
	for i := 0; i < maxCodeAttempts; i++ {
		rec := ae.do("POST", "/api/password/reset", map[string]string{"email": "anna@example.com", "code": wrong, "password": "neues-passwort"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("attempt %d status = %d, want 400", i+1, rec.Code)
		}
		last = errorMessage(t, rec)
	}
	if !strings.Contains(last, "too many") {
		t.Errorf("last error = %q, want too many attempts", last)
	}

	rec := ae.do("POST", "/api/password/reset", map[string]string{"email": "anna@example.com", "code": code, "password": "neues-passwort"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("burnt code status = %d, want 400", rec.Code)
	}
}

func TestResetPasswordValidation(t *testing.T) {
	ae := setupAccount(t, &fakeMailer{})

	tests := []struct {
		name string
		body map[string]string
	}{
		{"short password", map[string]string{"email": "anna@example.com", "code": "123456", "password": "kurz"}},
		{"missing code", map[string]string{"email": "anna@example.com", "password": "neues-passwort"}},
		{"no code issued", map[string]string{"email": "anna@example.com", "code": "123456", "password": "neues-passwort"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ae.do("POST", "/api/password/reset", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestConfirmEmailAndResend(t *testing.T) {
	ae := setupAccount(t, &fakeMailer{})
	ctx := context.Background()

	ae.handler.Welcome(ctx, ae.user)
	first := ae.mailer.last(t, "confirm")
	if first.to != "anna@example.com" {
		t.Fatalf("welcome mail = %+v", first)
	}

	if rec := ae.do("POST", "/api/email/resend", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("resend status = %d, body %s", rec.Code, rec.Body)
	}
	second := ae.mailer.last(t, "confirm")

	if first.code != second.code {
		rec := ae.do("POST", "/api/email/confirm", map[string]string{"email": "anna@example.com", "code": first.code})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("superseded code status = %d, want 400", rec.Code)
		}
	}

	rec := ae.do("POST", "/api/email/confirm", map[string]string{"email": "Anna@Example.com", "code": second.code})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, body %s", rec.Code, rec.Body)
	}
	var p model.Profile
	json.NewDecoder(rec.Body).Decode(&p)
	if p.EmailConfirmedAt == nil {
		t.Errorf("profile = %+v, want email_confirmed_at", p)
	}

	if rec := ae.do("POST", "/api/email/resend", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("resend after confirm status = %d, want 400", rec.Code)
	}
}

func TestResendMailFailure(t *testing.T) {
	ae := setupAccount(t, &fakeMailer{err: errors.New("postmark down")})

	if rec := ae.do("POST", "/api/email/resend", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestAccountMailDisabled(t *testing.T) {
	ae := setupAccount(t, nil)

	ae.handler.Welcome(context.Background(), ae.user)
	if rec := ae.do("POST", "/api/password/forgot", map[string]string{"email": "anna@example.com"}); rec.Code != http.StatusNotImplemented {
		t.Errorf("forgot status = %d, want 501", rec.Code)
	}
	if rec := ae.do("POST", "/api/email/resend", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("resend status = %d, want 501", rec.Code)
	}
}
