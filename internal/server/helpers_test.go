package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/counselchat/internal/domain"
	"github.com/Tyrowin/counselchat/internal/server/mocks"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.RateLimit = RateLimitConfig{Burst: 100, RefillInterval: time.Second}
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// chatFixture runs a Server over gomock collaborators behind httptest.
type chatFixture struct {
	validator *mocks.MockCredentialValidator
	members   *mocks.MockMembershipOracle
	messages  *mocks.MockMessageStore
	accounts  *mocks.MockAccountDirectory
	groups    *mocks.MockGroupDirectory
	tokens    *mocks.MockTokenService
	server    *Server
	http      *httptest.Server
}

func newChatFixture(t *testing.T, mutate ...func(*Config)) *chatFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &chatFixture{
		validator: mocks.NewMockCredentialValidator(ctrl),
		members:   mocks.NewMockMembershipOracle(ctrl),
		messages:  mocks.NewMockMessageStore(ctrl),
		accounts:  mocks.NewMockAccountDirectory(ctrl),
		groups:    mocks.NewMockGroupDirectory(ctrl),
		tokens:    mocks.NewMockTokenService(ctrl),
	}

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	srv, err := New(cfg, Dependencies{
		Validator: f.validator,
		Members:   f.members,
		Messages:  f.messages,
		Accounts:  f.accounts,
		Groups:    f.groups,
		Tokens:    f.tokens,
	}, quietLogger())
	require.NoError(t, err)
	f.server = srv
	f.http = httptest.NewServer(srv.Routes())

	t.Cleanup(f.http.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return f
}

// withTokens makes the validator accept exactly the given credentials.
func (f *chatFixture) withTokens(tokens map[string]domain.Identity) {
	f.validator.EXPECT().Validate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, credential string) (domain.Identity, error) {
			if credential == "" {
				return domain.Identity{}, domain.NewAuthError(domain.AuthMissing, nil)
			}
			identity, ok := tokens[credential]
			if !ok {
				return domain.Identity{}, domain.NewAuthError(domain.AuthMalformed, nil)
			}
			return identity, nil
		},
	).AnyTimes()
}

// withMembership makes the oracle answer from a group -> identity ids table.
func (f *chatFixture) withMembership(groups map[int64][]int64) {
	f.members.EXPECT().IsMember(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, groupID int64, identity domain.Identity) (bool, error) {
			for _, id := range groups[groupID] {
				if id == identity.ID {
					return true, nil
				}
			}
			return false, nil
		},
	).AnyTimes()
}

func (f *chatFixture) wsURL(groupID int64, token string) string {
	base := "ws" + strings.TrimPrefix(f.http.URL, "http")
	return fmt.Sprintf("%s/ws/%d?token=%s", base, groupID, token)
}

// dial opens a socket; the upgrade itself succeeds even for bad credentials.
func (f *chatFixture) dial(t *testing.T, groupID int64, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", testOrigin)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(f.wsURL(groupID, token), header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// join dials and waits until the hub has registered the connection.
func (f *chatFixture) join(t *testing.T, groupID int64, token string) *websocket.Conn {
	t.Helper()
	before := len(f.server.Hub().Snapshot(groupID))
	conn := f.dial(t, groupID, token)
	waitForClients(t, f.server.Hub(), groupID, before+1)
	return conn
}

func waitForClients(t *testing.T, hub *Hub, groupID int64, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(hub.Snapshot(groupID)) == want
	}, readTimeout, 10*time.Millisecond, "group %d never reached %d clients", groupID, want)
}

func sendContent(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"content": content}))
}

func readJSON[T any](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var v T
	require.NoError(t, conn.ReadJSON(&v))
	return v
}

func expectCloseCode(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)
}

// expectSilence asserts nothing arrives within d. The connection cannot be
// read from afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, payload, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", payload)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}

// detachedClient builds a client without a socket; its queue is read directly.
func detachedClient(cfg Config) *Client {
	return NewClient(nil, "test", cfg, quietLogger())
}
