package view

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/authpanel/internal/model"
	"github.com/hitoshi/authpanel/internal/session"
)

// fakeGateway はストアを直接更新するGatewayのテスト用実装。
// blockが設定されている場合、各操作はblockがcloseされるまで待つ。
type fakeGateway struct {
	store *session.Store
	block chan struct{}

	signUpErr error
	signInErr error
	resetErr  error
	verifyErr error
	updateErr error

	mu    sync.Mutex
	calls []string
}

func newFakeGateway(store *session.Store) *fakeGateway {
	return &fakeGateway{store: store}
}

func (g *fakeGateway) record(op string) {
	g.mu.Lock()
	g.calls = append(g.calls, op)
	g.mu.Unlock()
	if g.block != nil {
		<-g.block
	}
}

func (g *fakeGateway) callCount(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == op {
			n++
		}
	}
	return n
}

func testSession(email string) *model.Session {
	now := time.Now()
	return &model.Session{
		User: model.User{
			ID:           "user-" + email,
			Email:        email,
			CreatedAt:    now.Add(-24 * time.Hour),
			LastSignInAt: now,
		},
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		ExpiresAt:    now.Add(time.Hour),
	}
}

func (g *fakeGateway) SignUp(_ context.Context, _, _ string) error {
	g.record("SignUp")
	return g.signUpErr
}

func (g *fakeGateway) SignIn(ctx context.Context, email, _ string) (*model.Session, error) {
	g.record("SignIn")
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	s := testSession(email)
	g.store.Set(ctx, session.EventSignedIn, s)
	return s, nil
}

func (g *fakeGateway) SignOut(ctx context.Context) {
	g.record("SignOut")
	g.store.Clear(ctx)
}

func (g *fakeGateway) RequestPasswordReset(_ context.Context, _ string) error {
	g.record("RequestPasswordReset")
	return g.resetErr
}

func (g *fakeGateway) VerifyRecoveryToken(ctx context.Context, _ string) (*model.Session, error) {
	g.record("VerifyRecoveryToken")
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	s := testSession("recover@example.com")
	g.store.Set(ctx, session.EventPasswordRecovery, s)
	return s, nil
}

func (g *fakeGateway) UpdatePassword(ctx context.Context, _ string) error {
	g.record("UpdatePassword")
	if g.store.Current() == nil {
		return model.NewUnauthenticatedError()
	}
	if g.updateErr != nil {
		return g.updateErr
	}
	g.store.Set(ctx, session.EventUserUpdated, g.store.Current())
	return nil
}

func (g *fakeGateway) GetSession(_ context.Context) (*model.Session, error) {
	return g.store.Current(), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestClient はfakeGatewayに束縛されたClientを生成する。
func newTestClient(initial *model.Session) (*Client, *fakeGateway) {
	var opts []session.Option
	if initial != nil {
		opts = append(opts, session.WithInitial(initial))
	}
	store := session.NewStore(opts...)
	gw := newFakeGateway(store)
	return NewClient("client-1", store, gw, nil, discardLogger()), gw
}
