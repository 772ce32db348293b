package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/chat"
	"roomchat/internal/db"
	"roomchat/internal/models"
	"roomchat/internal/repository"
	"roomchat/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type sentNotice struct {
	to   string
	room int64
	by   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *recordingNotifier) ParticipantAdded(to *models.User, room *models.Room, by *models.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{to: to.Email, room: room.ID, by: by.Email})
	return nil
}

func (n *recordingNotifier) notices() []sentNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotice(nil), n.sent...)
}

type apiEnv struct {
	handler  http.Handler
	tokens   *auth.TokenManager
	registry *chat.Registry
	notifier *recordingNotifier
	users    map[string]*models.User
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()

	d, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	users := repository.NewUserRepo(d)
	rooms := repository.NewRoomRepo(d)
	messages := repository.NewMessagesRepo(d)

	hash, err := auth.HashPassword("s3cret-pass")
	require.NoError(t, err)

	env := &apiEnv{
		tokens:   auth.NewTokenManager("test-secret", time.Hour),
		registry: chat.NewRegistry(),
		notifier: &recordingNotifier{},
		users:    map[string]*models.User{},
	}
	t.Cleanup(env.registry.Shutdown)

	for _, name := range []string{"alice", "bob", "carol", "mallory"} {
		u := &models.User{Email: name + "@example.com", FirstName: name, PasswordHash: hash}
		require.NoError(t, users.CreateUser(ctx, u))
		env.users[name] = u
	}

	resolver := auth.NewResolver(env.tokens, users)
	dispatcher := chat.NewDispatcher(messages, env.registry, 0)

	env.handler = NewRouter(Deps{
		Tokens:     env.tokens,
		Resolver:   resolver,
		Users:      users,
		Rooms:      rooms,
		Messages:   messages,
		Registry:   env.registry,
		Dispatcher: dispatcher,
		Chat:       chat.NewHandler(resolver, rooms, env.registry, dispatcher, chat.NewTypingNotifier(env.registry), chat.HandlerOptions{}),
		Notifier:   env.notifier,
	})
	return env
}

func (e *apiEnv) token(t *testing.T, name string) string {
	t.Helper()
	token, err := e.tokens.GenerateToken(e.users[name].ID)
	require.NoError(t, err)
	return token
}

func (e *apiEnv) do(t *testing.T, method, path, as string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if as != "" {
		r.Header.Set("Authorization", "Bearer "+e.token(t, as))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *apiEnv) createRoom(t *testing.T, as string, roomType string, emails ...string) types.RoomDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/rooms/", as, map[string]any{
		"room_type":          roomType,
		"participant_emails": emails,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[types.RoomDTO](t, rec)
}

func roomPath(id int64, suffix string) string {
	return "/api/rooms/" + strconv.FormatInt(id, 10) + "/" + suffix
}

func TestLogin(t *testing.T) {
	env := setupAPI(t)

	t.Run("valid credentials", func(t *testing.T) {
		req := require.New(t)
		rec := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "Alice@Example.com", "password": "s3cret-pass"})
		req.Equal(http.StatusOK, rec.Code, rec.Body.String())

		resp := decodeBody[types.AuthResponse](t, rec)
		req.Equal("alice@example.com", resp.User.Email)

		claims, err := env.tokens.ValidateToken(resp.Access)
		req.NoError(err)
		req.Equal(env.users["alice"].ID, claims.UserID)
	})

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"wrong password", map[string]string{"email": "alice@example.com", "password": "nope"}, http.StatusUnauthorized},
		{"unknown email", map[string]string{"email": "nobody@example.com", "password": "s3cret-pass"}, http.StatusUnauthorized},
		{"invalid email", map[string]string{"email": "not-an-email", "password": "x"}, http.StatusBadRequest},
		{"missing password", map[string]string{"email": "alice@example.com"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth/login", "", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	env := setupAPI(t)

	for _, path := range []string{"/api/rooms/", "/api/messages/?room=1"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestCreateRoom(t *testing.T) {
	env := setupAPI(t)

	t.Run("direct room includes creator", func(t *testing.T) {
		req := require.New(t)
		room := env.createRoom(t, "alice", "direct", "bob@example.com")
		req.Equal("direct", room.RoomType)
		req.Equal(2, room.ParticipantCount)
		req.ElementsMatch([]string{"alice@example.com", "bob@example.com"}, []string{room.Participants[0].Email, room.Participants[1].Email})
	})

	t.Run("room type defaults to direct", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/rooms/", "alice", map[string]any{"participant_emails": []string{"carol@example.com"}})
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Equal(t, "direct", decodeBody[types.RoomDTO](t, rec).RoomType)
	})

	t.Run("direct room with two others is rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/rooms/", "alice", map[string]any{
			"room_type":          "direct",
			"participant_emails": []string{"bob@example.com", "carol@example.com"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown emails are listed", func(t *testing.T) {
		req := require.New(t)
		rec := env.do(t, http.MethodPost, "/api/rooms/", "alice", map[string]any{
			"room_type":          "group",
			"participant_emails": []string{"bob@example.com", "ghost@example.com", "phantom@example.com"},
		})
		req.Equal(http.StatusBadRequest, rec.Code)
		req.Contains(rec.Body.String(), "ghost@example.com, phantom@example.com")
	})

	t.Run("participant emails are required", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/rooms/", "alice", map[string]any{"room_type": "group"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown room type", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/rooms/", "alice", map[string]any{
			"room_type":          "broadcast",
			"participant_emails": []string{"bob@example.com"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListRooms_OrderedByRecency(t *testing.T) {
	req := require.New(t)
	env := setupAPI(t)

	older := env.createRoom(t, "alice", "direct", "bob@example.com")
	newer := env.createRoom(t, "alice", "group", "carol@example.com")
	env.createRoom(t, "bob", "direct", "carol@example.com")

	rooms := decodeBody[[]types.RoomDTO](t, env.do(t, http.MethodGet, "/api/rooms/", "alice", nil))
	req.Len(rooms, 2)
	req.Equal(newer.ID, rooms[0].ID)

	// a new message bumps the older room to the top
	time.Sleep(10 * time.Millisecond)
	rec := env.do(t, http.MethodPost, "/api/messages/", "bob", map[string]any{"room": older.ID, "content": "ping"})
	req.Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rooms = decodeBody[[]types.RoomDTO](t, env.do(t, http.MethodGet, "/api/rooms/", "alice", nil))
	req.Equal(older.ID, rooms[0].ID)
}

func TestGetRoom_HiddenFromOutsiders(t *testing.T) {
	env := setupAPI(t)
	room := env.createRoom(t, "alice", "direct", "bob@example.com")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, roomPath(room.ID, ""), "bob", nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, roomPath(room.ID, ""), "mallory", nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, roomPath(9999, ""), "alice", nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/rooms/abc/", "alice", nil).Code)
}

func TestAddParticipant(t *testing.T) {
	env := setupAPI(t)
	direct := env.createRoom(t, "alice", "direct", "bob@example.com")
	group := env.createRoom(t, "alice", "group", "bob@example.com")

	tests := []struct {
		name   string
		roomID int64
		as     string
		email  string
		status int
	}{
		{"direct rooms are closed", direct.ID, "alice", "carol@example.com", http.StatusBadRequest},
		{"outsider sees no group", group.ID, "mallory", "carol@example.com", http.StatusNotFound},
		{"outsider sees no direct room", direct.ID, "mallory", "carol@example.com", http.StatusNotFound},
		{"unknown email", group.ID, "alice", "ghost@example.com", http.StatusNotFound},
		{"already a participant", group.ID, "alice", "bob@example.com", http.StatusBadRequest},
		{"invalid email", group.ID, "alice", "nope", http.StatusBadRequest},
		{"unknown room", 9999, "alice", "carol@example.com", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, roomPath(tt.roomID, "add_participant/"), tt.as, map[string]string{"email": tt.email})
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	require.Empty(t, env.notifier.notices())

	t.Run("success notifies the added user", func(t *testing.T) {
		req := require.New(t)
		rec := env.do(t, http.MethodPost, roomPath(group.ID, "add_participant/"), "bob", map[string]string{"email": "carol@example.com"})
		req.Equal(http.StatusOK, rec.Code, rec.Body.String())
		req.Equal(3, decodeBody[types.RoomDTO](t, rec).ParticipantCount)

		req.Eventually(func() bool { return len(env.notifier.notices()) == 1 }, time.Second, 10*time.Millisecond)
		req.Equal(sentNotice{to: "carol@example.com", room: group.ID, by: "bob@example.com"}, env.notifier.notices()[0])
	})
}

func TestRenameRoom(t *testing.T) {
	env := setupAPI(t)
	room := env.createRoom(t, "alice", "group", "bob@example.com")

	t.Run("participant renames", func(t *testing.T) {
		req := require.New(t)
		rec := env.do(t, http.MethodPatch, roomPath(room.ID, ""), "bob", map[string]any{"name": "standup"})
		req.Equal(http.StatusOK, rec.Code, rec.Body.String())
		dto := decodeBody[types.RoomDTO](t, rec)
		req.NotNil(dto.Name)
		req.Equal("standup", *dto.Name)
		req.Equal(2, dto.ParticipantCount)
	})

	t.Run("blank name clears it", func(t *testing.T) {
		req := require.New(t)
		rec := env.do(t, http.MethodPut, roomPath(room.ID, ""), "alice", map[string]any{"name": "  "})
		req.Equal(http.StatusOK, rec.Code, rec.Body.String())
		req.Nil(decodeBody[types.RoomDTO](t, rec).Name)
	})

	tests := []struct {
		name   string
		roomID int64
		as     string
		body   any
		status int
	}{
		{"outsider", room.ID, "mallory", map[string]any{"name": "mine"}, http.StatusNotFound},
		{"unknown room", 9999, "alice", map[string]any{"name": "x"}, http.StatusNotFound},
		{"name too long", room.ID, "alice", map[string]any{"name": strings.Repeat("n", 256)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPatch, roomPath(tt.roomID, ""), tt.as, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestProfile(t *testing.T) {
	req := require.New(t)
	env := setupAPI(t)

	req.Equal(http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/profile/", "", nil).Code)

	rec := env.do(t, http.MethodGet, "/api/profile/", "carol", nil)
	req.Equal(http.StatusOK, rec.Code, rec.Body.String())
	me := decodeBody[types.UserDTO](t, rec)
	req.Equal(env.users["carol"].ID, me.ID)
	req.Equal("carol@example.com", me.Email)

	// only fields present in the body change
	rec = env.do(t, http.MethodPatch, "/api/profile/", "carol", map[string]any{"last_name": "Danvers"})
	req.Equal(http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[types.UserDTO](t, rec)
	req.Equal("carol", updated.FirstName)
	req.Equal("Danvers", updated.LastName)

	rec = env.do(t, http.MethodGet, "/api/profile", "carol", nil)
	req.Equal("Danvers", decodeBody[types.UserDTO](t, rec).LastName)

	req.Equal(http.StatusBadRequest, env.do(t, http.MethodPut, "/api/profile/", "carol", map[string]any{"first_name": strings.Repeat("x", 151)}).Code)
}

func TestMessages_ListCreateGet(t *testing.T) {
	req := require.New(t)
	env := setupAPI(t)
	room := env.createRoom(t, "alice", "direct", "bob@example.com")
	roomID := strconv.FormatInt(room.ID, 10)

	// no room filter yields an empty list
	list := decodeBody[[]types.MessageDTO](t, env.do(t, http.MethodGet, "/api/messages/", "alice", nil))
	req.Empty(list)

	for _, content := range []string{"first", "second", "third"} {
		rec := env.do(t, http.MethodPost, "/api/messages/", "alice", map[string]any{"room": room.ID, "content": content})
		req.Equal(http.StatusCreated, rec.Code, rec.Body.String())
	}

	list = decodeBody[[]types.MessageDTO](t, env.do(t, http.MethodGet, "/api/messages/?room="+roomID, "bob", nil))
	req.Len(list, 3)
	req.Equal("third", list[0].Content)
	req.Equal("first", list[2].Content)
	req.Equal(env.users["alice"].ID, list[0].Sender.ID)

	limited := decodeBody[[]types.MessageDTO](t, env.do(t, http.MethodGet, "/api/messages/?room="+roomID+"&limit=1", "bob", nil))
	req.Len(limited, 1)

	req.Equal(http.StatusForbidden, env.do(t, http.MethodGet, "/api/messages/?room="+roomID, "mallory", nil).Code)
	req.Equal(http.StatusBadRequest, env.do(t, http.MethodGet, "/api/messages/?room=abc", "alice", nil).Code)

	msgPath := "/api/messages/" + strconv.FormatInt(list[0].ID, 10) + "/"
	got := decodeBody[types.MessageDTO](t, env.do(t, http.MethodGet, msgPath, "bob", nil))
	req.Equal("third", got.Content)
	req.Equal(http.StatusNotFound, env.do(t, http.MethodGet, msgPath, "mallory", nil).Code)
}

func TestMessages_CreateRejections(t *testing.T) {
	env := setupAPI(t)
	room := env.createRoom(t, "alice", "direct", "bob@example.com")

	tests := []struct {
		name   string
		as     string
		body   map[string]any
		status int
	}{
		{"blank content", "alice", map[string]any{"room": room.ID, "content": "  "}, http.StatusBadRequest},
		{"too long", "alice", map[string]any{"room": room.ID, "content": strings.Repeat("a", chat.DefaultMaxMessageLength+1)}, http.StatusBadRequest},
		{"not a participant", "mallory", map[string]any{"room": room.ID, "content": "hi"}, http.StatusForbidden},
		{"unknown room", "alice", map[string]any{"room": 9999, "content": "hi"}, http.StatusBadRequest},
		{"missing room", "alice", map[string]any{"content": "hi"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/messages/", tt.as, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestMessages_MarkReadIsIdempotent(t *testing.T) {
	req := require.New(t)
	env := setupAPI(t)
	room := env.createRoom(t, "alice", "direct", "bob@example.com")

	created := decodeBody[types.MessageDTO](t, env.do(t, http.MethodPost, "/api/messages/", "alice", map[string]any{"room": room.ID, "content": "read me"}))
	req.False(created.IsRead)

	path := "/api/messages/" + strconv.FormatInt(created.ID, 10) + "/read/"
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, path, "bob", nil)
		req.Equal(http.StatusOK, rec.Code, rec.Body.String())
		req.True(decodeBody[types.MessageDTO](t, rec).IsRead)
	}

	req.Equal(http.StatusNotFound, env.do(t, http.MethodPost, path, "mallory", nil).Code)
	req.Equal(http.StatusNotFound, env.do(t, http.MethodPost, "/api/messages/9999/read/", "bob", nil).Code)
}

func TestMessages_RestCreateReachesLiveSessions(t *testing.T) {
	req := require.New(t)
	env := setupAPI(t)
	room := env.createRoom(t, "alice", "direct", "bob@example.com")

	server := httptest.NewServer(env.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/" + strconv.FormatInt(room.ID, 10) + "?token=" + env.token(t, "bob")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	defer conn.Close()

	var evt map[string]any
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	req.NoError(conn.ReadJSON(&evt))
	req.Equal("connection_established", evt["type"])

	rec := env.do(t, http.MethodPost, "/api/messages/", "alice", map[string]any{"room": room.ID, "content": "from rest"})
	req.Equal(http.StatusCreated, rec.Code)

	req.NoError(conn.ReadJSON(&evt))
	req.Equal("chat_message", evt["type"])
	req.Equal("from rest", evt["message"].(map[string]any)["content"])
}

func TestHealthz(t *testing.T) {
	env := setupAPI(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","active_rooms":0}`, rec.Body.String())
}
