package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/parsascontentcorner/liro/internal/grpc"
)

func newAdminCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Query a running liro instance over its admin gRPC API",
	}
	adminCmd.PersistentFlags().StringVar(&addr, "addr", "localhost:50051", "admin gRPC address")
	adminCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	call := func(cmd *cobra.Command, rawID string, fn func(context.Context, *grpcserver.AdminClient, uint64) (*structpb.Struct, error)) error {
		id, err := strconv.ParseUint(rawID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", rawID, err)
		}

		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp, err := fn(ctx, grpcserver.NewAdminClient(conn), id)
		if err != nil {
			return err
		}

		out, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
		if err != nil {
			return fmt.Errorf("failed to format response: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	}

	adminCmd.AddCommand(
		&cobra.Command{
			Use:   "account <discord-user-id>",
			Short: "Show the Lichess account linked to a Discord user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, args[0], func(ctx context.Context, c *grpcserver.AdminClient, id uint64) (*structpb.Struct, error) {
					return c.GetLinkedAccount(ctx, id)
				})
			},
		},
		&cobra.Command{
			Use:   "tiers <guild-id>",
			Short: "List rating tiers and the roles known for a guild",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, args[0], func(ctx context.Context, c *grpcserver.AdminClient, id uint64) (*structpb.Struct, error) {
					return c.ListTierRoles(ctx, id)
				})
			},
		},
	)

	return adminCmd
}
