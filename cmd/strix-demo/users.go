package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/k0kubun/pp/v3"

	"github.com/casualjim/strix"
	"github.com/casualjim/strix/broker"
	"github.com/casualjim/strix/internal/config"
	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/pkg/stdx"
	"github.com/casualjim/strix/spec"
)

const (
	channelSignedUp = "user/signedup"
	channelRejected = "user/rejected"
	channelAudit    = "audit"
)

type UserSignedUp struct {
	Name  string `json:"name" jsonschema:"minLength=1"`
	Email string `json:"email" jsonschema:"format=email"`
}

var errMissingEmail = errors.New("user has no email")

func usersSpec() (*spec.Specification, error) {
	s := spec.New(spec.Info{
		Title:       "User events",
		Version:     "1.0.0",
		Description: "Signup notifications and their audit trail.",
	})
	for _, srv := range []struct{ name, url string }{
		{"nats", "nats://localhost:4222"},
		{"jetstream", "jetstream://localhost:4222?stream=USERS&consumer_ack_messages=false"},
		{"local", "memory://local"},
	} {
		if _, err := s.AddServer(srv.name, srv.url); err != nil {
			return nil, err
		}
	}

	if _, err := spec.Subscribe[UserSignedUp](s, channelSignedUp, "onUserSignedUp",
		spec.WithDescription("A user completed the signup form."),
		spec.WithMessageTitle("User signed up"),
	); err != nil {
		return nil, err
	}
	if _, err := spec.Subscribe[UserSignedUp](s, channelRejected, "onUserRejected",
		spec.WithDescription("Signups whose handler failed."),
	); err != nil {
		return nil, err
	}
	if _, err := spec.SubscribeUntyped(s, channelAudit, "onAudit"); err != nil {
		return nil, err
	}
	return s, nil
}

// console serializes handler output.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) print(channel string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, color.MagentaString(channel)+": ")
	pp.Fprintln(c.w, v)
}

func handlers(out *console, engine func() *strix.Engine) map[string]any {
	return map[string]any{
		"onUserSignedUp": func(ctx context.Context, ack broker.AckFunc, user UserSignedUp) error {
			defer ack(ctx)
			if user.Email == "" {
				return errMissingEmail
			}
			out.print(channelSignedUp, user)
			return engine().Publish(ctx, channelAudit, map[string]any{"action": "signup", "user": user.Name})
		},
		"onUserRejected": func(ctx context.Context, ack broker.AckFunc, user UserSignedUp) {
			defer ack(ctx)
			out.print(channelRejected, color.RedString("rejected %s", user.Name))
		},
		"onAudit": func(ctx context.Context, ack broker.AckFunc, entry any) strix.Future[string] {
			defer ack(ctx)
			return strix.Go(ctx, func(context.Context) (string, error) {
				out.print(channelAudit, entry)
				return "audited", nil
			})
		},
	}
}

func connectionURL(cfg *config.Config, s *spec.Specification) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}
	srv, err := s.Server(cfg.Server)
	if err != nil {
		return "", err
	}
	return srv.ConnectionURL(), nil
}

func connect(ctx context.Context, cfg *config.Config, s *spec.Specification) (*broker.EventsHandler, error) {
	rawURL, err := connectionURL(cfg, s)
	if err != nil {
		return nil, err
	}
	events, err := broker.NewEventsHandler(rawURL, broker.WithQueueSize(cfg.QueueSize))
	if err != nil {
		return nil, err
	}
	if err := events.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", rawURL, err)
	}
	slog.InfoContext(ctx, "connected", slog.String("url", rawURL))
	return events, nil
}

func runListen(ctx context.Context, cfg *config.Config, w io.Writer) error {
	s := stdx.Must1(usersSpec())

	var engine *strix.Engine
	ops, err := strix.BuildOperations(s, handlers(&console{w: w}, func() *strix.Engine { return engine }))
	if err != nil {
		return err
	}

	events, err := connect(ctx, cfg, s)
	if err != nil {
		return err
	}
	defer func() {
		if err := events.Disconnect(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to disconnect", slogx.Error(err))
		}
	}()

	engine, err = strix.New(s, ops, events,
		strix.WithRepublishErrors(cfg.RepublishErrors),
		strix.WithErrorChannel(channelSignedUp, channelRejected),
		strix.WithOperationTimeout(cfg.OperationTimeout),
	)
	if err != nil {
		return err
	}

	if cfg.Channel != "" {
		err = engine.Listen(ctx, cfg.Channel)
	} else {
		err = engine.ListenAll(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runPublish(ctx context.Context, cfg *config.Config, user UserSignedUp, count int) error {
	s := stdx.Must1(usersSpec())
	events, err := connect(ctx, cfg, s)
	if err != nil {
		return err
	}
	defer func() {
		if err := events.Disconnect(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to disconnect", slogx.Error(err))
		}
	}()

	ops, err := strix.NewOperations()
	if err != nil {
		return err
	}
	engine, err := strix.New(s, ops, events)
	if err != nil {
		return err
	}
	for i := range count {
		if err := engine.Publish(ctx, channelSignedUp, user); err != nil {
			return err
		}
		slog.InfoContext(ctx, "published", slogx.Channel(channelSignedUp), slog.Int("seq", i+1))
	}
	return nil
}

func printSpec(w io.Writer) error {
	s, err := usersSpec()
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
