// Command sokdak drives the session core from a terminal: start a social login, redeem the
// redirect URL the browser ends up on, and inspect or end the resulting session.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/sokdak/sokdak"
	"github.com/sokdak/sokdak/app"
	"github.com/sokdak/sokdak/common/reporting"
	"github.com/sokdak/sokdak/redirect"
	"github.com/sokdak/sokdak/resolver"
)

type parseCmd struct {
	URL string `arg:"positional,required" help:"redirect URL to inspect"`
}

type loginCmd struct {
	Provider string `arg:"positional,required" help:"identity provider: google or kakao"`
	Wait     bool   `arg:"-w,--wait" help:"read the redirect URL from stdin and complete the login"`
}

type redeemCmd struct {
	URL string `arg:"positional,required" help:"redirect URL the browser was sent to"`
}

type sessionCmd struct{}

type avatarCmd struct {
	File string `arg:"positional,required" help:"image file to use as the profile picture"`
}

type signOutCmd struct{}

type args struct {
	Parse   *parseCmd   `arg:"subcommand:parse" help:"show the auth payload of a redirect URL"`
	Login   *loginCmd   `arg:"subcommand:login" help:"print the URL that starts a social login"`
	Redeem  *redeemCmd  `arg:"subcommand:redeem" help:"complete a login with its redirect URL"`
	Session *sessionCmd `arg:"subcommand:session" help:"print the current session and profile"`
	SignOut *signOutCmd `arg:"subcommand:signout" help:"sign out"`
	Avatar  *avatarCmd  `arg:"subcommand:avatar" help:"upload a new profile picture"`

	Config   string        `arg:"-c,--config,env:SOKDAK_CONFIG" help:"JSON or YAML config file"`
	DataDir  string        `arg:"--data-dir,env:SOKDAK_DATA_PATH" help:"directory for the session files"`
	LogDir   string        `arg:"--log-dir,env:SOKDAK_LOG_PATH"`
	LogLevel string        `arg:"--log-level" help:"trace, debug, info, warn or error"`
	Timeout  time.Duration `arg:"--timeout" default:"30s" help:"give up after this long"`
}

func (args) Version() string {
	return fmt.Sprintf("%s %s (%s)", app.Name, app.Version, app.Platform)
}

func main() {
	defer func() {
		if p := recover(); p != nil {
			reporting.PanicListener(fmt.Sprintf("panic: %v", p))
			panic(p)
		}
	}()

	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a args) error {
	// parsing needs no backend
	if a.Parse != nil {
		payload, ok := redirect.Parse(a.Parse.URL)
		if !ok {
			return resolver.ErrNoPayload
		}
		fmt.Println(payload)
		return nil
	}

	c, err := sokdak.New(sokdak.Options{
		DataDir:    a.DataDir,
		LogDir:     a.LogDir,
		LogLevel:   a.LogLevel,
		ConfigPath: a.Config,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	if err := waitResolved(ctx, c); err != nil {
		return err
	}

	switch {
	case a.Login != nil:
		u, err := c.Login(ctx, a.Login.Provider)
		if err != nil {
			return err
		}
		fmt.Println(u)
		if !a.Login.Wait {
			return nil
		}
		fmt.Fprintln(os.Stderr, "Open the URL above, then paste the URL you were redirected to:")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading redirect URL: %w", err)
		}
		if err := c.CompleteLogin(ctx, strings.TrimSpace(line)); err != nil {
			return err
		}
		return printSession(ctx, c)
	case a.Redeem != nil:
		if err := c.CompleteLogin(ctx, a.Redeem.URL); err != nil {
			return err
		}
		return printSession(ctx, c)
	case a.Session != nil:
		return printSession(ctx, c)
	case a.SignOut != nil:
		return c.SignOut(ctx)
	case a.Avatar != nil:
		f, err := os.Open(a.Avatar.File)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := c.UpdateAvatar(ctx, filepath.Base(a.Avatar.File), f); err != nil {
			return err
		}
		return printSession(ctx, c)
	}
	return nil
}

// waitResolved waits for the cold start lookup to settle.
func waitResolved(ctx context.Context, c *sokdak.Client) error {
	settled := make(chan struct{}, 1)
	unsubscribe := c.SubscribeState(func(sc resolver.StateChange) {
		if sc.To == resolver.Authenticated || sc.To == resolver.Unauthenticated {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()
	if s := c.State(); s == resolver.Authenticated || s == resolver.Unauthenticated {
		return nil
	}
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type sessionView struct {
	State     string    `json:"state"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Nickname  string    `json:"nickname,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

func printSession(ctx context.Context, c *sokdak.Client) error {
	view := sessionView{State: c.State().String()}
	if s := c.Session(); s != nil {
		view.UserID = s.UserID()
		view.Email = s.User.Email
		view.Provider = s.User.Provider()
		view.ExpiresAt = s.Expiry()
		if err := c.ReloadProfile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "profile:", err)
		}
		if p := c.Profile(); p != nil {
			view.Nickname = p.Nickname
			view.AvatarURL = p.AvatarURL
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
