package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mutamirhq/mutamir/internal/app"
	"github.com/mutamirhq/mutamir/internal/config"
	"github.com/mutamirhq/mutamir/internal/session"
	"go.uber.org/fx"
)

// mutamird is the headless notification agent: it holds the profile lock,
// keeps the push connection alive, and polls the notification feed so the
// profile cache stays warm while no interactive client is running.
func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	profile := *profileFlag
	if profile == "" {
		profile = cfg.DefaultProfile
	}
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fxApp := fx.New(
		app.Module(app.Params{
			Profile:  profile,
			Process:  "mutamird",
			TakeLock: true,
		}),
	)

	fxApp.Run()
}
