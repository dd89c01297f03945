package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mutamirhq/mutamir/internal/app"
	"github.com/mutamirhq/mutamir/internal/config"
	"github.com/mutamirhq/mutamir/internal/session"
	"github.com/mutamirhq/mutamir/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// mutamir is the interactive terminal client.
func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	loginFlag := flag.Bool("login", false, "read a bearer token from stdin, store it, and exit")
	flag.Parse()

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fatal(err)
	}

	profile := *profileFlag
	if profile == "" {
		profile = cfg.DefaultProfile
	}
	if err := session.ValidateName(profile); err != nil {
		fatal(err)
	}

	if *loginFlag {
		if err := login(profile); err != nil {
			fatal(err)
		}
		fmt.Println("token stored for profile", profile)
		return
	}

	var deps tui.Deps
	deps.Profile = profile

	fxApp := fx.New(
		app.Module(app.Params{
			Profile:      profile,
			Process:      "mutamir",
			FileOnlyLogs: true,
		}),
		fx.NopLogger,
		fx.Populate(
			&deps.Bus, &deps.Machine, &deps.Client, &deps.Push,
			&deps.Center, &deps.Tokens, &deps.Store, &deps.Logger,
		),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fatal(err)
	}

	if _, err := deps.Tokens.Token(); err != nil {
		_ = stop(fxApp)
		fatal(fmt.Errorf("%w (run mutamir -login first)", err))
	}

	ui := tui.NewApp(deps)
	runErr := ui.Run()

	if err := stop(fxApp); err != nil {
		deps.Logger.Warn("shutdown error", zap.Error(err))
	}
	if runErr != nil {
		fatal(runErr)
	}
}

func login(profile string) error {
	if err := session.EnsureDir(profile); err != nil {
		return err
	}
	fmt.Fprint(os.Stderr, "paste token: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return err
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return fmt.Errorf("empty token")
	}
	return session.NewFileTokenSource(profile).Store(token)
}

func stop(fxApp *fx.App) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fxApp.Stop(stopCtx)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
