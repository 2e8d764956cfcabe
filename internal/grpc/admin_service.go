// Package grpc provides the admin gRPC surface for inspecting links and tier roles.
package grpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/parsascontentcorner/liro/internal/database"
	"github.com/parsascontentcorner/liro/internal/discord"
	"github.com/parsascontentcorner/liro/internal/models"
	"github.com/parsascontentcorner/liro/internal/roles"
)

// AdminServiceName is the fully qualified gRPC service name
const AdminServiceName = "liro.admin.v1.AdminService"

const (
	getLinkedAccountMethod = "/" + AdminServiceName + "/GetLinkedAccount"
	listTierRolesMethod    = "/" + AdminServiceName + "/ListTierRoles"
)

// AdminServiceServer is the server API for the admin service
type AdminServiceServer interface {
	GetLinkedAccount(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error)
	ListTierRoles(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error)
}

// AccountReader loads linked accounts
type AccountReader interface {
	GetLinkedAccount(ctx context.Context, discordID uint64) (*models.LinkedAccount, error)
}

// TierRoles reports configured tiers and the roles known per guild
type TierRoles interface {
	Tiers(ctx context.Context) ([]roles.Tier, error)
	Roles(ctx context.Context, guildID uint64) (map[string]string, error)
}

// AdminServer implements AdminServiceServer
type AdminServer struct {
	accounts AccountReader
	roles    TierRoles
	logger   *zap.Logger
}

// NewAdminServer creates a new admin server
func NewAdminServer(accounts AccountReader, tierRoles TierRoles, logger *zap.Logger) *AdminServer {
	return &AdminServer{
		accounts: accounts,
		roles:    tierRoles,
		logger:   logger,
	}
}

// GetLinkedAccount returns the link stored for a Discord user. The access token is never included.
func (s *AdminServer) GetLinkedAccount(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	discordID := req.GetValue()
	if discordID == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "discord_id is required")
	}

	account, err := s.accounts.GetLinkedAccount(ctx, discordID)
	if errors.Is(err, database.ErrAccountNotFound) {
		return nil, status.Errorf(codes.NotFound, "no linked account for discord user %d", discordID)
	}
	if err != nil {
		s.logger.Error("failed to get linked account", zap.Uint64("discord_id", discordID), zap.Error(err))
		return nil, status.Errorf(codes.Internal, "failed to retrieve linked account")
	}

	fields := map[string]any{
		"discord_id":       discord.FormatSnowflake(account.DiscordID),
		"lichess_id":       account.LichessID,
		"lichess_username": account.LichessUsername,
		"token_type":       account.TokenType,
		"token_expired":    account.IsTokenExpired(),
		"rating":           nil,
		"token_expiry":     nil,
		"created_at":       account.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":       account.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if account.Rating.Valid {
		fields["rating"] = account.Rating.Int64
	}
	if account.TokenExpiry.Valid {
		fields["token_expiry"] = account.TokenExpiry.Time.UTC().Format(time.RFC3339)
	}

	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode linked account: %v", err)
	}
	return resp, nil
}

// ListTierRoles returns every configured tier with the role id known for the guild
func (s *AdminServer) ListTierRoles(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	guildID := req.GetValue()
	if guildID == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "guild_id is required")
	}

	tiers, err := s.roles.Tiers(ctx)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	known, err := s.roles.Roles(ctx, guildID)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}

	list := make([]any, 0, len(tiers))
	for _, t := range tiers {
		var roleID any
		if id, ok := known[t.Name]; ok {
			roleID = id
		}
		list = append(list, map[string]any{
			"name":      t.Name,
			"role_name": t.RoleName,
			"min":       t.Min,
			"max":       t.Max,
			"role_id":   roleID,
		})
	}

	resp, err := structpb.NewStruct(map[string]any{
		"guild_id": discord.FormatSnowflake(guildID),
		"tiers":    list,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode tier roles: %v", err)
	}
	return resp, nil
}

// adminServiceDesc describes the admin service. Messages are well-known protobuf types,
// so no generated code is needed.
var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetLinkedAccount", Handler: getLinkedAccountHandler},
		{MethodName: "ListTierRoles", Handler: listTierRolesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "liro/admin/v1/admin.proto",
}

// RegisterAdminServiceServer registers srv on s
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

func getLinkedAccountHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).GetLinkedAccount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getLinkedAccountMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServiceServer).GetLinkedAccount(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func listTierRolesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).ListTierRoles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listTierRolesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServiceServer).ListTierRoles(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

// AdminClient calls the admin service
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient creates a client on an existing connection
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

// GetLinkedAccount calls AdminService.GetLinkedAccount
func (c *AdminClient) GetLinkedAccount(ctx context.Context, discordID uint64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getLinkedAccountMethod, wrapperspb.UInt64(discordID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTierRoles calls AdminService.ListTierRoles
func (c *AdminClient) ListTierRoles(ctx context.Context, guildID uint64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listTierRolesMethod, wrapperspb.UInt64(guildID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
