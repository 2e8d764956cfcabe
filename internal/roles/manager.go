package roles

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/parsascontentcorner/liro/internal/discord"
)

// RoleAPI is the subset of the Discord API the manager needs
type RoleAPI interface {
	GuildRoles(ctx context.Context, guildID uint64) ([]discord.Role, error)
	CreateRole(ctx context.Context, guildID uint64, name string) (*discord.Role, error)
	GuildMember(ctx context.Context, guildID, userID uint64) (*discord.Member, error)
	AddMemberRole(ctx context.Context, guildID, userID uint64, roleID string) error
	RemoveMemberRole(ctx context.Context, guildID, userID uint64, roleID string) error
}

// SyncResult describes what a sync changed
type SyncResult struct {
	Tier    string // empty when the rating is outside every band
	RoleID  string
	Added   bool
	Removed []string
}

// Changed reports whether any role was added or removed
func (r *SyncResult) Changed() bool {
	return r.Added || len(r.Removed) > 0
}

type guildRoles struct {
	byTier map[string]string
	// retired holds role ids that belonged to tiers of an earlier config. Members may still
	// hold them, so they are removed like any other tier role.
	retired map[string]struct{}
	listed  bool // guild roles were listed from Discord since the last reload
}

func newGuildRoles() *guildRoles {
	return &guildRoles{
		byTier:  make(map[string]string),
		retired: make(map[string]struct{}),
	}
}

// Manager owns the tier-role assignments of every guild the bot serves.
//
// All methods hold a single semaphore for their whole duration, Discord calls included,
// so at most one sync runs per process. Acquisition honours the caller's context.
type Manager struct {
	api    RoleAPI
	sem    *semaphore.Weighted
	tiers  []Tier
	guilds map[uint64]*guildRoles
	logger *zap.Logger
}

// NewManager creates a manager from a validated tier config
func NewManager(api RoleAPI, cfg TierConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		api:    api,
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
	if err := m.apply(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) apply(cfg TierConfig) error {
	if err := ValidateTiers(cfg.Tiers); err != nil {
		return fmt.Errorf("invalid tiers: %w", err)
	}
	if err := ValidateGuilds(cfg.Tiers, cfg.Guilds); err != nil {
		return fmt.Errorf("invalid guild roles: %w", err)
	}

	guilds := make(map[uint64]*guildRoles, len(cfg.Guilds)+len(m.guilds))
	for rawID, seeded := range cfg.Guilds {
		guildID, err := discord.ParseSnowflake(rawID)
		if err != nil {
			return fmt.Errorf("invalid guild id %q: %w", rawID, err)
		}
		entry := newGuildRoles()
		for tier, roleID := range seeded {
			entry.byTier[tier] = roleID
		}
		guilds[guildID] = entry
	}

	// Every role known under the previous config stays a tier role until members lose it
	for guildID, prev := range m.guilds {
		entry, ok := guilds[guildID]
		if !ok {
			entry = newGuildRoles()
			guilds[guildID] = entry
		}
		for _, roleID := range prev.byTier {
			entry.retired[roleID] = struct{}{}
		}
		for roleID := range prev.retired {
			entry.retired[roleID] = struct{}{}
		}
		for _, roleID := range entry.byTier {
			delete(entry.retired, roleID)
		}
	}

	m.tiers = append([]Tier(nil), cfg.Tiers...)
	m.guilds = guilds
	return nil
}

func (m *Manager) lock(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire role manager: %w", err)
	}
	return nil
}

func (m *Manager) unlock() {
	m.sem.Release(1)
}

// Reload replaces the tiers and seeded roles. Roles known under the previous config are
// retired: members still holding them lose them on their next sync.
func (m *Manager) Reload(ctx context.Context, cfg TierConfig) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	if err := m.apply(cfg); err != nil {
		return err
	}

	m.logger.Info("tier config reloaded",
		zap.Int("tiers", len(m.tiers)),
		zap.Int("seeded_guilds", len(m.guilds)),
	)
	return nil
}

// Tiers returns a copy of the configured tiers
func (m *Manager) Tiers(ctx context.Context) ([]Tier, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	return append([]Tier(nil), m.tiers...), nil
}

// Roles returns the known tier -> role id mapping for a guild
func (m *Manager) Roles(ctx context.Context, guildID uint64) (map[string]string, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	out := make(map[string]string)
	if g, ok := m.guilds[guildID]; ok {
		for tier, roleID := range g.byTier {
			out[tier] = roleID
		}
	}
	return out, nil
}

// SyncRole gives the member exactly the role of the tier containing rating and
// removes any other tier role. Calling it again with the same rating changes nothing.
func (m *Manager) SyncRole(ctx context.Context, guildID, userID uint64, rating int) (*SyncResult, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	logger := m.logger.With(
		zap.Uint64("guild_id", guildID),
		zap.Uint64("user_id", userID),
		zap.Int("rating", rating),
	)

	result := &SyncResult{}

	tier, ok := TierFor(m.tiers, rating)
	if ok {
		roleID, err := m.resolveRole(ctx, guildID, tier)
		if err != nil {
			return nil, err
		}
		result.Tier = tier.Name
		result.RoleID = roleID
	} else if err := m.discoverRoles(ctx, guildID); err != nil {
		return nil, err
	}

	member, err := m.api.GuildMember(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get guild member: %w", err)
	}

	if ok && !member.HasRole(result.RoleID) {
		if err := m.api.AddMemberRole(ctx, guildID, userID, result.RoleID); err != nil {
			if discord.IsNotFound(err) {
				m.evict(guildID, tier.Name)
			}
			return nil, fmt.Errorf("failed to add tier role: %w", err)
		}
		result.Added = true
	}

	removed, err := m.removeTierRoles(ctx, guildID, userID, member, result.RoleID)
	result.Removed = removed
	if err != nil {
		return result, err
	}

	if result.Changed() {
		logger.Info("tier role synced",
			zap.String("tier", result.Tier),
			zap.String("role_id", result.RoleID),
			zap.Bool("added", result.Added),
			zap.Strings("removed", result.Removed),
		)
	} else {
		logger.Debug("tier role already in sync", zap.String("tier", result.Tier))
	}

	return result, nil
}

// ClearRoles removes every tier role from the member
func (m *Manager) ClearRoles(ctx context.Context, guildID, userID uint64) (*SyncResult, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	if err := m.discoverRoles(ctx, guildID); err != nil {
		return nil, err
	}

	member, err := m.api.GuildMember(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get guild member: %w", err)
	}

	removed, err := m.removeTierRoles(ctx, guildID, userID, member, "")
	result := &SyncResult{Removed: removed}
	if err != nil {
		return result, err
	}

	if len(removed) > 0 {
		m.logger.Info("tier roles cleared",
			zap.Uint64("guild_id", guildID),
			zap.Uint64("user_id", userID),
			zap.Strings("removed", removed),
		)
	}
	return result, nil
}

func (m *Manager) guild(guildID uint64) *guildRoles {
	g, ok := m.guilds[guildID]
	if !ok {
		g = newGuildRoles()
		m.guilds[guildID] = g
	}
	return g
}

func (m *Manager) evict(guildID uint64, tier string) {
	if g, ok := m.guilds[guildID]; ok {
		delete(g.byTier, tier)
		g.listed = false
	}
	m.logger.Warn("evicted stale tier role",
		zap.Uint64("guild_id", guildID),
		zap.String("tier", tier),
	)
}

// discoverRoles fills missing tier roles by matching guild role names. It lists the
// guild at most once per reload unless a role was evicted.
func (m *Manager) discoverRoles(ctx context.Context, guildID uint64) error {
	g := m.guild(guildID)
	if g.listed || len(g.byTier) == len(m.tiers) {
		return nil
	}

	roles, err := m.api.GuildRoles(ctx, guildID)
	if err != nil {
		return fmt.Errorf("failed to list guild roles: %w", err)
	}

	byName := make(map[string]string, len(roles))
	for _, role := range roles {
		if !role.Managed {
			byName[role.Name] = role.ID
		}
	}

	for _, tier := range m.tiers {
		if _, known := g.byTier[tier.Name]; known {
			continue
		}
		if roleID, found := byName[tier.RoleName]; found {
			g.byTier[tier.Name] = roleID
		}
	}
	g.listed = true
	return nil
}

// resolveRole returns the role for tier in the guild, creating it when the guild has none
func (m *Manager) resolveRole(ctx context.Context, guildID uint64, tier Tier) (string, error) {
	if err := m.discoverRoles(ctx, guildID); err != nil {
		return "", err
	}

	g := m.guild(guildID)
	if roleID, ok := g.byTier[tier.Name]; ok {
		return roleID, nil
	}

	role, err := m.api.CreateRole(ctx, guildID, tier.RoleName)
	if err != nil {
		return "", fmt.Errorf("failed to create tier role: %w", err)
	}
	g.byTier[tier.Name] = role.ID
	return role.ID, nil
}

// removeTierRoles removes every known tier role the member holds except keep,
// including roles of tiers dropped or renamed by a reload
func (m *Manager) removeTierRoles(ctx context.Context, guildID, userID uint64, member *discord.Member, keep string) ([]string, error) {
	g := m.guild(guildID)

	current := make(map[string]bool, len(g.byTier))
	var removed []string
	for _, tier := range m.tiers {
		roleID, ok := g.byTier[tier.Name]
		if !ok {
			continue
		}
		current[roleID] = true
		if roleID == keep || !member.HasRole(roleID) {
			continue
		}
		if err := m.api.RemoveMemberRole(ctx, guildID, userID, roleID); err != nil {
			if discord.IsNotFound(err) {
				m.evict(guildID, tier.Name)
			}
			return removed, fmt.Errorf("failed to remove tier role: %w", err)
		}
		removed = append(removed, roleID)
	}

	for _, roleID := range slices.Sorted(maps.Keys(g.retired)) {
		if current[roleID] || roleID == keep || !member.HasRole(roleID) {
			continue
		}
		if err := m.api.RemoveMemberRole(ctx, guildID, userID, roleID); err != nil {
			if discord.IsNotFound(err) {
				delete(g.retired, roleID)
			}
			return removed, fmt.Errorf("failed to remove retired tier role: %w", err)
		}
		removed = append(removed, roleID)
	}
	return removed, nil
}
