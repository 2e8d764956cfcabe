package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// MockDiscordServer is an in-memory fake of the Discord REST endpoints the bot uses.
// Members are created on first access so tests only need to seed what they assert on.
type MockDiscordServer struct {
	Server *httptest.Server

	mu         sync.Mutex
	nextID     int
	roles      map[string][]mockRole          // guild -> roles
	members    map[string]map[string][]string // guild -> user -> role ids
	messages   []MockMessage
	roleWrites int
	failGuilds map[string]int // guild -> status code to fail with
}

type mockRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MockMessage is a message sent through the mock
type MockMessage struct {
	ChannelID string
	Content   string
	ReplyTo   string
}

// NewMockDiscordServer creates a new mock Discord API server.
func NewMockDiscordServer() *MockDiscordServer {
	mds := &MockDiscordServer{
		nextID:     1000,
		roles:      make(map[string][]mockRole),
		members:    make(map[string]map[string][]string),
		failGuilds: make(map[string]int),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /guilds/{guild}/roles", func(w http.ResponseWriter, r *http.Request) {
		guild := r.PathValue("guild")
		if mds.failed(w, guild) {
			return
		}

		mds.mu.Lock()
		roles := append([]mockRole{}, mds.roles[guild]...)
		mds.mu.Unlock()

		writeJSON(w, http.StatusOK, roles)
	})

	mux.HandleFunc("POST /guilds/{guild}/roles", func(w http.ResponseWriter, r *http.Request) {
		guild := r.PathValue("guild")
		if mds.failed(w, guild) {
			return
		}

		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 50035, "message": "Invalid Form Body"})
			return
		}

		role := mds.AddRole(guild, body.Name)
		writeJSON(w, http.StatusOK, mockRole{ID: role, Name: body.Name})
	})

	mux.HandleFunc("GET /guilds/{guild}/members/{user}", func(w http.ResponseWriter, r *http.Request) {
		guild, user := r.PathValue("guild"), r.PathValue("user")
		if mds.failed(w, guild) {
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"user":  map[string]any{"id": user, "username": "member_" + user},
			"roles": mds.MemberRoles(guild, user),
		})
	})

	mux.HandleFunc("PUT /guilds/{guild}/members/{user}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		mds.writeMemberRole(w, r, true)
	})

	mux.HandleFunc("DELETE /guilds/{guild}/members/{user}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		mds.writeMemberRole(w, r, false)
	})

	mux.HandleFunc("POST /channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content          string `json:"content"`
			MessageReference *struct {
				MessageID string `json:"message_id"`
			} `json:"message_reference"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 50035, "message": "Invalid Form Body"})
			return
		}

		msg := MockMessage{ChannelID: r.PathValue("channel"), Content: body.Content}
		if body.MessageReference != nil {
			msg.ReplyTo = body.MessageReference.MessageID
		}

		mds.mu.Lock()
		mds.messages = append(mds.messages, msg)
		mds.nextID++
		id := strconv.Itoa(mds.nextID)
		mds.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{"id": id, "channel_id": msg.ChannelID, "content": msg.Content})
	})

	mux.HandleFunc("GET /gateway/bot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"url":    "wss://gateway.discord.gg",
			"shards": 1,
			"session_start_limit": map[string]any{
				"total": 1000, "remaining": 999, "reset_after": 0, "max_concurrency": 1,
			},
		})
	})

	mds.Server = httptest.NewServer(mux)
	return mds
}

func (mds *MockDiscordServer) failed(w http.ResponseWriter, guild string) bool {
	mds.mu.Lock()
	status, ok := mds.failGuilds[guild]
	mds.mu.Unlock()

	if !ok {
		return false
	}
	writeJSON(w, status, map[string]any{"code": 0, "message": http.StatusText(status)})
	return true
}

func (mds *MockDiscordServer) writeMemberRole(w http.ResponseWriter, r *http.Request, add bool) {
	guild, user, role := r.PathValue("guild"), r.PathValue("user"), r.PathValue("role")
	if mds.failed(w, guild) {
		return
	}

	mds.mu.Lock()
	defer mds.mu.Unlock()

	exists := false
	for _, existing := range mds.roles[guild] {
		if existing.ID == role {
			exists = true
			break
		}
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 10011, "message": "Unknown Role"})
		return
	}

	if mds.members[guild] == nil {
		mds.members[guild] = make(map[string][]string)
	}
	current := mds.members[guild][user]
	next := make([]string, 0, len(current)+1)
	for _, id := range current {
		if id != role {
			next = append(next, id)
		}
	}
	if add {
		next = append(next, role)
	}
	mds.members[guild][user] = next
	mds.roleWrites++

	w.WriteHeader(http.StatusNoContent)
}

// URL returns the base URL to configure as the Discord API URL
func (mds *MockDiscordServer) URL() string {
	return mds.Server.URL
}

// Close closes the mock server.
func (mds *MockDiscordServer) Close() {
	mds.Server.Close()
}

// AddRole seeds a guild role and returns its id
func (mds *MockDiscordServer) AddRole(guild, name string) string {
	mds.mu.Lock()
	defer mds.mu.Unlock()

	mds.nextID++
	id := strconv.Itoa(mds.nextID)
	mds.roles[guild] = append(mds.roles[guild], mockRole{ID: id, Name: name})
	return id
}

// DeleteRole removes a guild role, as an administrator would
func (mds *MockDiscordServer) DeleteRole(guild, roleID string) {
	mds.mu.Lock()
	defer mds.mu.Unlock()

	roles := mds.roles[guild][:0]
	for _, role := range mds.roles[guild] {
		if role.ID != roleID {
			roles = append(roles, role)
		}
	}
	mds.roles[guild] = roles
}

// Roles returns role name -> id for a guild
func (mds *MockDiscordServer) Roles(guild string) map[string]string {
	mds.mu.Lock()
	defer mds.mu.Unlock()

	out := make(map[string]string)
	for _, role := range mds.roles[guild] {
		out[role.Name] = role.ID
	}
	return out
}

// SetMemberRoles seeds the roles a member holds
func (mds *MockDiscordServer) SetMemberRoles(guild, user string, roles ...string) {
	mds.mu.Lock()
	defer mds.mu.Unlock()

	if mds.members[guild] == nil {
		mds.members[guild] = make(map[string][]string)
	}
	mds.members[guild][user] = append([]string{}, roles...)
}

// MemberRoles returns the role ids a member holds
func (mds *MockDiscordServer) MemberRoles(guild, user string) []string {
	mds.mu.Lock()
	defer mds.mu.Unlock()

	return append([]string{}, mds.members[guild][user]...)
}

// RoleWrites returns how many member role changes were made
func (mds *MockDiscordServer) RoleWrites() int {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	return mds.roleWrites
}

// Messages returns the messages sent so far
func (mds *MockDiscordServer) Messages() []MockMessage {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	return append([]MockMessage{}, mds.messages...)
}

// FailGuild makes every guild endpoint for guild answer with status
func (mds *MockDiscordServer) FailGuild(guild string, status int) {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.failGuilds[guild] = status
}
