package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// ServerCommands returns commands that inspect and register servers.
func ServerCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Inspect and register servers",
			Commands: []*cli.Command{
				{
					Name:      "create",
					Usage:     "Register a server with default settings",
					ArgsUsage: "SERVER_ID",
					Action:    handleServerCreate(deps),
				},
				{
					Name:      "show",
					Usage:     "Show a server's settings, actions and commands",
					ArgsUsage: "SERVER_ID",
					Action:    handleServerShow(deps),
				},
			},
		},
	}
}

// parseServerID reads the SERVER_ID argument.
func parseServerID(c *cli.Command) (uint64, error) {
	if c.Args().Len() != 1 {
		return 0, ErrServerIDRequired
	}

	id, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid server id: %w", err)
	}

	return id, nil
}

func handleServerCreate(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		id, err := parseServerID(c)
		if err != nil {
			return err
		}

		server, err := deps.DB.Model().Server().Create(ctx, id)
		if err != nil {
			return err
		}

		deps.Logger.Info("Registered server",
			zap.Uint64("server_id", server.ID),
			zap.Time("created_at", server.CreatedAt))

		return nil
	}
}

func handleServerShow(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		id, err := parseServerID(c)
		if err != nil {
			return err
		}

		servers := deps.DB.Model().Server()

		server, err := servers.Get(ctx, id)
		if err != nil {
			return err
		}

		commands, err := servers.GetCommands(ctx, id)
		if err != nil {
			return err
		}

		members, err := servers.GetRegisteredMembers(ctx, id)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(commands))
		for _, command := range commands {
			names = append(names, command.Name)
		}

		deps.Logger.Info("Server",
			zap.Uint64("server_id", server.ID),
			zap.Bool("allow_forced_syncing", server.AllowForcedSyncing),
			zap.Int("actions", len(server.ActionIDs)),
			zap.Int("grants", len(server.Authorisations)),
			zap.Strings("commands", names),
			zap.Int("registered_members", len(members)))

		return nil
	}
}
