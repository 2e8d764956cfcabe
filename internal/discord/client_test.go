package discord

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/config"
	"github.com/parsascontentcorner/liro/internal/testutil"
)

func newTestClient(t *testing.T) (*Client, *testutil.MockDiscordServer) {
	t.Helper()

	mock := testutil.NewMockDiscordServer()
	t.Cleanup(mock.Close)

	client := NewClient(&config.DiscordConfig{APIURL: mock.URL(), BotToken: "test_bot_token"}, zap.NewNop())
	return client, mock
}

func TestRoles(t *testing.T) {
	client, mock := newTestClient(t)
	ctx := context.Background()

	existing := mock.AddRole("1", "Moderators")

	roles, err := client.GuildRoles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, existing, roles[0].ID)

	created, err := client.CreateRole(ctx, 1, "Lichess 1200-1599")
	require.NoError(t, err)
	assert.Equal(t, "Lichess 1200-1599", created.Name)
	assert.Equal(t, created.ID, mock.Roles("1")["Lichess 1200-1599"])
}

func TestMemberRoles(t *testing.T) {
	client, mock := newTestClient(t)
	ctx := context.Background()

	role := mock.AddRole("1", "Lichess 0-1199")

	require.NoError(t, client.AddMemberRole(ctx, 1, 42, role))

	member, err := client.GuildMember(ctx, 1, 42)
	require.NoError(t, err)
	assert.True(t, member.HasRole(role))
	assert.Equal(t, "42", member.User.ID)

	require.NoError(t, client.RemoveMemberRole(ctx, 1, 42, role))
	member, err = client.GuildMember(ctx, 1, 42)
	require.NoError(t, err)
	assert.False(t, member.HasRole(role))
}

func TestAPIError(t *testing.T) {
	client, mock := newTestClient(t)
	ctx := context.Background()

	err := client.AddMemberRole(ctx, 1, 42, "999")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 10011, apiErr.Code)
	assert.Equal(t, "Unknown Role", apiErr.Message)

	mock.FailGuild("2", http.StatusForbidden)
	_, err = client.GuildRoles(ctx, 2)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.False(t, IsNotFound(err))
}

func TestSendMessage(t *testing.T) {
	client, mock := newTestClient(t)

	msg, err := client.SendMessage(context.Background(), "555", "Pong!", "777")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	sent := mock.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, testutil.MockMessage{ChannelID: "555", Content: "Pong!", ReplyTo: "777"}, sent[0])
}

func TestGatewayBot(t *testing.T) {
	client, _ := newTestClient(t)

	gw, err := client.GatewayBot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.discord.gg", gw.URL)
	assert.Equal(t, 1, gw.Shards)
}

func TestSnowflake(t *testing.T) {
	id, err := ParseSnowflake("175928847299117063")
	require.NoError(t, err)
	assert.Equal(t, uint64(175928847299117063), id)
	assert.Equal(t, "175928847299117063", FormatSnowflake(id))

	_, err = ParseSnowflake("abc")
	assert.Error(t, err)
}
