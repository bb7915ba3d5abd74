package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/warden/pkg/async"
	"github.com/NicolasHaas/warden/pkg/auth"
	"github.com/NicolasHaas/warden/pkg/command"
	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/logging"
	"github.com/NicolasHaas/warden/pkg/model"
	"github.com/NicolasHaas/warden/pkg/punish"
	"github.com/NicolasHaas/warden/pkg/server"
	"github.com/NicolasHaas/warden/pkg/store"
	"github.com/NicolasHaas/warden/pkg/sweeper"
)

// session is one open database plus the engine on top of it.
type session struct {
	backend  store.Backend
	pool     *async.Pool
	engine   *punish.Engine
	commands *command.Handler
}

func open() (*session, error) {
	backend, err := store.Open(dbPath, datastore.Options{StatementTimeout: timeout})
	if err != nil {
		return nil, err
	}
	pool := async.NewPool(1, logging.Discard())
	engine, err := punish.New(punish.Options{
		Store:  backend,
		Pool:   pool,
		Logger: logging.Component("engine"),
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &session{
		backend:  backend,
		pool:     pool,
		engine:   engine,
		commands: command.NewHandler(engine, command.UUIDResolver{}, issuer, logging.Component("command")),
	}, nil
}

func (s *session) Close() error {
	return errors.Join(s.pool.Close(context.Background()), s.backend.Close())
}

// withSession opens the database for the duration of fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if err := fn(cmd.Context(), s); err != nil {
		return errors.New(command.UserMessage(err))
	}
	return nil
}

func issueCmd(name, short string, timed bool) *cobra.Command {
	use := name + " <subject> <reason...>"
	args := cobra.MinimumNArgs(2)
	if timed {
		use = name + " <subject> <duration|perm> <reason...>"
		args = cobra.MinimumNArgs(3)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			req := command.Request{Target: argv[0], Issuer: issuer}
			rest := argv[1:]
			if timed {
				req.Duration, rest = rest[0], rest[1:]
			}
			req.Reason = strings.Join(rest, " ")

			return withSession(cmd, func(ctx context.Context, s *session) error {
				var (
					p   *model.Punishment
					err error
				)
				switch name {
				case "ban":
					p, err = s.commands.Ban(ctx, req)
				case "mute":
					p, err = s.commands.Mute(ctx, req)
				default:
					p, err = s.commands.Kick(ctx, req)
				}
				if err != nil {
					return err
				}
				printPunishment(cmd.OutOrStdout(), p, s.engine.Now())
				return nil
			})
		},
	}
}

func revokeCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <subject>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				revoke := s.commands.Unban
				if name == "unmute" {
					revoke = s.commands.Unmute
				}
				lifted, err := revoke(ctx, argv[0], issuer)
				if err != nil {
					return err
				}
				if lifted {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: done\n", name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to lift\n", name)
				}
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <subject>",
		Short: "Show a player's active ban and mute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				st, err := s.commands.Status(ctx, argv[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "subject: %s\n", st.Subject)
				if st.Ban == nil && st.Mute == nil {
					fmt.Fprintln(out, "no active punishments")
				}
				for _, p := range []*model.Punishment{st.Ban, st.Mute} {
					if p != nil {
						printPunishment(out, p, s.engine.Now())
					}
				}
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "history <subject>",
		Short: "List every punishment a player has received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				subject, history, err := s.commands.History(ctx, argv[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asYAML {
					data, err := server.ExportHistoryYAML(subject, history, s.engine.Now())
					if err != nil {
						return err
					}
					_, err = out.Write(data)
					return err
				}
				if len(history) == 0 {
					fmt.Fprintln(out, "no punishments on record")
				}
				for i := range history {
					printPunishment(out, &history[i], s.engine.Now())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the history as YAML")
	return cmd
}

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <id>",
		Short: "Show one punishment by its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			id, err := strconv.ParseInt(strings.TrimPrefix(argv[0], "#"), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid punishment id %q", argv[0])
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				p, err := s.commands.Lookup(ctx, id)
				if err != nil {
					return err
				}
				if p == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "no punishment #%d\n", id)
					return nil
				}
				data, err := yaml.Marshal(p)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate every punishment that has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				sw := sweeper.New(sweeper.Options{Store: s.backend, Logger: logging.Component("sweeper")})
				n, err := sw.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated %d expired punishment(s)\n", n)
				return nil
			})
		},
	}
}

func printPunishment(w io.Writer, p *model.Punishment, now time.Time) {
	state := "lifted"
	switch {
	case p.Kind == model.KindKick:
		state = "recorded"
	case p.InForceAt(now):
		state = "in force, " + punish.RemainingText(p, now)
	case p.Active:
		state = "expired"
	}
	fmt.Fprintf(w, "%s %-4s %s by %s at %s (%s): %s\n",
		p.Ref(), p.Kind, p.SubjectID, p.Issuer,
		p.CreatedAt.UTC().Format(time.RFC3339), state, p.Reason)
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate an admin API token and the hash to configure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token: %s\n", token)
			fmt.Fprintf(out, "api_token_hash: %s\n", hash)
			return nil
		},
	}
}
