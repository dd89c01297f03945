package app

import (
	"testing"

	"go.uber.org/fx"
)

func TestModuleGraph(t *testing.T) {
	// Constructing the graph must not touch the network or the profile
	// directory; providers only run on Start.
	t.Setenv("HOME", t.TempDir())

	err := fx.ValidateApp(
		Module(Params{Profile: "test", Process: "mutamir", FileOnlyLogs: true}),
	)
	if err != nil {
		t.Fatalf("dependency graph does not resolve: %v", err)
	}
}

func TestModuleGraphHeadless(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	err := fx.ValidateApp(
		Module(Params{Profile: "test", Process: "mutamird", TakeLock: true}),
	)
	if err != nil {
		t.Fatalf("dependency graph does not resolve: %v", err)
	}
}
