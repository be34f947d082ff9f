package cmd

import (
	"errors"
	"testing"

	"github.com/otterscale/otterscale-watch/internal/cmd/server"
	"github.com/otterscale/otterscale-watch/internal/config"
)

func TestNewServerCommand_Flags(t *testing.T) {
	conf, err := config.New()
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}

	cmd, err := NewServerCommand(conf, func() (*server.Server, func(), error) {
		return nil, nil, errors.New("not used")
	})
	if err != nil {
		t.Fatalf("NewServerCommand: %v", err)
	}

	for _, o := range config.ServerOptions {
		if cmd.Flags().Lookup(o.Flag) == nil {
			t.Errorf("flag %q not registered", o.Flag)
		}
	}
}

func TestNewServerCommand_InjectorError(t *testing.T) {
	conf, err := config.New()
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}

	want := errors.New("kubeconfig missing")
	cmd, err := NewServerCommand(conf, func() (*server.Server, func(), error) {
		return nil, nil, want
	})
	if err != nil {
		t.Fatalf("NewServerCommand: %v", err)
	}
	cmd.SetArgs([]string{"--address=:0"})

	if err := cmd.Execute(); !errors.Is(err, want) {
		t.Fatalf("Execute() error = %v, want %v", err, want)
	}
}
