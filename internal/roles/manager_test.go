package roles

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/discord"
)

// fakeRoleAPI is an in-memory guild. It fails the test if two calls overlap.
type fakeRoleAPI struct {
	t *testing.T

	mu      sync.Mutex
	nextID  int
	roles   map[uint64][]discord.Role
	members map[uint64]map[uint64][]string

	inFlight  atomic.Int32
	lists     int
	creates   int
	writes    int
	callDelay time.Duration
}

func newFakeRoleAPI(t *testing.T) *fakeRoleAPI {
	return &fakeRoleAPI{
		t:       t,
		nextID:  100,
		roles:   make(map[uint64][]discord.Role),
		members: make(map[uint64]map[uint64][]string),
	}
}

func (f *fakeRoleAPI) enter() func() {
	if f.inFlight.Add(1) > 1 {
		f.t.Errorf("concurrent Discord calls while role manager is held")
	}
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeRoleAPI) addRole(guildID uint64, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprint(f.nextID)
	f.roles[guildID] = append(f.roles[guildID], discord.Role{ID: id, Name: name})
	return id
}

func (f *fakeRoleAPI) hasRole(guildID uint64, roleID string) bool {
	for _, r := range f.roles[guildID] {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

func (f *fakeRoleAPI) memberRoles(guildID, userID uint64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.members[guildID][userID]...)
}

func (f *fakeRoleAPI) setMemberRoles(guildID, userID uint64, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[guildID] == nil {
		f.members[guildID] = make(map[uint64][]string)
	}
	f.members[guildID][userID] = roles
}

func (f *fakeRoleAPI) GuildRoles(_ context.Context, guildID uint64) ([]discord.Role, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]discord.Role{}, f.roles[guildID]...), nil
}

func (f *fakeRoleAPI) CreateRole(_ context.Context, guildID uint64, name string) (*discord.Role, error) {
	defer f.enter()()
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	id := f.addRole(guildID, name)
	return &discord.Role{ID: id, Name: name}, nil
}

func (f *fakeRoleAPI) GuildMember(_ context.Context, guildID, userID uint64) (*discord.Member, error) {
	defer f.enter()()
	return &discord.Member{Roles: f.memberRoles(guildID, userID)}, nil
}

func (f *fakeRoleAPI) AddMemberRole(_ context.Context, guildID, userID uint64, roleID string) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRole(guildID, roleID) {
		return &discord.APIError{StatusCode: http.StatusNotFound, Code: 10011, Message: "Unknown Role"}
	}
	if f.members[guildID] == nil {
		f.members[guildID] = make(map[uint64][]string)
	}
	f.members[guildID][userID] = append(f.members[guildID][userID], roleID)
	f.writes++
	return nil
}

func (f *fakeRoleAPI) RemoveMemberRole(_ context.Context, guildID, userID uint64, roleID string) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []string
	for _, id := range f.members[guildID][userID] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	f.members[guildID][userID] = kept
	f.writes++
	return nil
}

func newTestManager(t *testing.T, api RoleAPI) *Manager {
	t.Helper()
	m, err := NewManager(api, DefaultTierConfig(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestSyncRole_CreatesAndAssigns(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	result, err := m.SyncRole(ctx, 1, 42, 1500)
	require.NoError(t, err)

	assert.Equal(t, "intermediate", result.Tier)
	assert.True(t, result.Added)
	assert.Empty(t, result.Removed)
	assert.Equal(t, []string{result.RoleID}, api.memberRoles(1, 42))
	assert.Equal(t, 1, api.creates)

	roles, err := m.Roles(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"intermediate": result.RoleID}, roles)
}

func TestSyncRole_Idempotent(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	first, err := m.SyncRole(ctx, 1, 42, 1500)
	require.NoError(t, err)
	writes, creates, lists := api.writes, api.creates, api.lists

	second, err := m.SyncRole(ctx, 1, 42, 1500)
	require.NoError(t, err)

	assert.False(t, second.Changed())
	assert.Equal(t, first.RoleID, second.RoleID)
	assert.Equal(t, writes, api.writes)
	assert.Equal(t, creates, api.creates)
	assert.Equal(t, lists, api.lists, "guild roles should be listed once")
	assert.Equal(t, []string{first.RoleID}, api.memberRoles(1, 42))
}

func TestSyncRole_TierTransition(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	before, err := m.SyncRole(ctx, 1, 42, 1500)
	require.NoError(t, err)

	after, err := m.SyncRole(ctx, 1, 42, 2100)
	require.NoError(t, err)

	assert.Equal(t, "expert", after.Tier)
	assert.True(t, after.Added)
	assert.Equal(t, []string{before.RoleID}, after.Removed)
	assert.Equal(t, []string{after.RoleID}, api.memberRoles(1, 42))
}

func TestSyncRole_UsesExistingRoleByName(t *testing.T) {
	api := newFakeRoleAPI(t)
	existing := api.addRole(1, "Lichess 2400+")
	unrelated := api.addRole(1, "Moderators")
	api.setMemberRoles(1, 42, unrelated)

	m := newTestManager(t, api)

	result, err := m.SyncRole(context.Background(), 1, 42, 2500)
	require.NoError(t, err)

	assert.Equal(t, existing, result.RoleID)
	assert.Equal(t, 0, api.creates)
	assert.ElementsMatch(t, []string{unrelated, existing}, api.memberRoles(1, 42))
}

func TestSyncRole_RemovesStrayTierRoles(t *testing.T) {
	api := newFakeRoleAPI(t)
	beginner := api.addRole(1, "Lichess 0-1199")
	advanced := api.addRole(1, "Lichess 1600-1999")
	master := api.addRole(1, "Lichess 2400+")
	api.setMemberRoles(1, 42, beginner, master)

	m := newTestManager(t, api)

	result, err := m.SyncRole(context.Background(), 1, 42, 1700)
	require.NoError(t, err)

	assert.Equal(t, advanced, result.RoleID)
	assert.ElementsMatch(t, []string{beginner, master}, result.Removed)
	assert.Equal(t, []string{advanced}, api.memberRoles(1, 42))
}

func TestSyncRole_OutOfBandRemovesAll(t *testing.T) {
	api := newFakeRoleAPI(t)
	expert := api.addRole(1, "Lichess 2000-2399")
	api.setMemberRoles(1, 42, expert)

	m := newTestManager(t, api)

	result, err := m.SyncRole(context.Background(), 1, 42, 5000)
	require.NoError(t, err)

	assert.Empty(t, result.Tier)
	assert.False(t, result.Added)
	assert.Equal(t, []string{expert}, result.Removed)
	assert.Empty(t, api.memberRoles(1, 42))
	assert.Equal(t, 0, api.creates)
}

func TestSyncRole_StaleSeededRoleIsEvicted(t *testing.T) {
	api := newFakeRoleAPI(t)
	cfg := DefaultTierConfig()
	cfg.Guilds = map[string]map[string]string{"1": {"beginner": "deleted-role"}}

	m, err := NewManager(api, cfg, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.SyncRole(ctx, 1, 42, 800)
	require.Error(t, err)
	assert.True(t, discord.IsNotFound(err))

	roles, err := m.Roles(ctx, 1)
	require.NoError(t, err)
	assert.NotContains(t, roles, "beginner")

	// The next sync recreates the role
	result, err := m.SyncRole(ctx, 1, 42, 800)
	require.NoError(t, err)
	assert.True(t, result.Added)
	assert.NotEqual(t, "deleted-role", result.RoleID)
}

func TestClearRoles(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	synced, err := m.SyncRole(ctx, 1, 42, 1300)
	require.NoError(t, err)

	result, err := m.ClearRoles(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{synced.RoleID}, result.Removed)
	assert.Empty(t, api.memberRoles(1, 42))

	result, err = m.ClearRoles(ctx, 1, 42)
	require.NoError(t, err)
	assert.False(t, result.Changed())
}

func TestSyncRole_Serialized(t *testing.T) {
	api := newFakeRoleAPI(t)
	api.callDelay = 2 * time.Millisecond
	m := newTestManager(t, api)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.SyncRole(context.Background(), 1, uint64(i), 1000+i*200)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Concurrent first syncs must not create duplicate roles
	assert.LessOrEqual(t, api.creates, len(DefaultTiers()))
}

func TestSyncRole_ContextCancelledWhileWaiting(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)

	require.NoError(t, m.sem.Acquire(context.Background(), 1))
	defer m.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.SyncRole(ctx, 1, 42, 1500)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, api.writes)
}

func TestReload(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	_, err := m.SyncRole(ctx, 1, 42, 1500)
	require.NoError(t, err)

	cfg := TierConfig{
		Tiers:  []Tier{{Name: "all", RoleName: "Lichess Player", Min: 0, Max: 4000}},
		Guilds: map[string]map[string]string{"1": {"all": "555"}},
	}
	require.NoError(t, m.Reload(ctx, cfg))

	tiers, err := m.Tiers(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 1)

	roles, err := m.Roles(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"all": "555"}, roles)

	err = m.Reload(ctx, TierConfig{})
	assert.Error(t, err)
	tiers, err = m.Tiers(ctx)
	require.NoError(t, err)
	assert.Len(t, tiers, 1, "invalid reload keeps previous tiers")
}

func TestReload_RemovesRetiredTierRole(t *testing.T) {
	renamed := DefaultTierConfig()
	renamed.Tiers[1].RoleName = "Intermediate"

	dropped := DefaultTierConfig()
	dropped.Tiers = dropped.Tiers[1:]

	tests := []struct {
		name      string
		rating    int
		reload    TierConfig
		resync    int
		wantTier  string
		wantAdded bool
	}{
		{"renamed tier", 1500, renamed, 1500, "intermediate", true},
		{"dropped tier", 1000, dropped, 1300, "intermediate", true},
		{"dropped tier out of band", 1000, dropped, 1000, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeRoleAPI(t)
			m := newTestManager(t, api)
			ctx := context.Background()

			first, err := m.SyncRole(ctx, 1, 42, tt.rating)
			require.NoError(t, err)

			require.NoError(t, m.Reload(ctx, tt.reload))

			second, err := m.SyncRole(ctx, 1, 42, tt.resync)
			require.NoError(t, err)

			assert.Equal(t, tt.wantTier, second.Tier)
			assert.Equal(t, tt.wantAdded, second.Added)
			assert.Equal(t, []string{first.RoleID}, second.Removed)
			if tt.wantTier == "" {
				assert.Empty(t, api.memberRoles(1, 42))
			} else {
				assert.Equal(t, []string{second.RoleID}, api.memberRoles(1, 42))
			}
		})
	}
}

func TestReload_UnchangedTiersStayInSync(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	first, err := m.SyncRole(ctx, 1, 42, 1500)
	require.NoError(t, err)
	require.NoError(t, m.Reload(ctx, DefaultTierConfig()))
	writes := api.writes

	second, err := m.SyncRole(ctx, 1, 42, 1500)
	require.NoError(t, err)

	assert.False(t, second.Changed())
	assert.Equal(t, first.RoleID, second.RoleID)
	assert.Equal(t, writes, api.writes)
	assert.Equal(t, []string{first.RoleID}, api.memberRoles(1, 42))
}

func TestReload_ClearRolesRemovesRetiredRole(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	first, err := m.SyncRole(ctx, 1, 42, 1500)
	require.NoError(t, err)

	renamed := DefaultTierConfig()
	renamed.Tiers[1].RoleName = "Intermediate"
	require.NoError(t, m.Reload(ctx, renamed))

	result, err := m.ClearRoles(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{first.RoleID}, result.Removed)
	assert.Empty(t, api.memberRoles(1, 42))
}

func TestReload_RejectsSharedRoleID(t *testing.T) {
	api := newFakeRoleAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	cfg := DefaultTierConfig()
	cfg.Guilds = map[string]map[string]string{"1": {"beginner": "555", "master": "555"}}

	err := m.Reload(ctx, cfg)
	assert.ErrorContains(t, err, "is assigned to both")

	_, err = NewManager(api, cfg, zap.NewNop())
	assert.ErrorContains(t, err, "is assigned to both")
}

func TestNewManager_InvalidGuildID(t *testing.T) {
	cfg := DefaultTierConfig()
	cfg.Guilds = map[string]map[string]string{"not-a-snowflake": {"beginner": "1"}}

	_, err := NewManager(newFakeRoleAPI(t), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "invalid guild id")
}
