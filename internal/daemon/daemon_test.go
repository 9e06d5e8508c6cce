package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/fx"
)

func TestDaemonLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "accounts")

	app := fx.New(
		Module(Params{AccountsDir: dir}),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The accounts directory is provisioned with registry-side files.
	if _, err := os.Stat(filepath.Join(dir, "engine.log")); err != nil {
		t.Errorf("engine.log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "LOCK")); err != nil {
		t.Errorf("LOCK missing while daemon runs: %v", err)
	}

	stopCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// The directory lock is released on shutdown.
	if _, err := os.Stat(filepath.Join(dir, "LOCK")); !os.IsNotExist(err) {
		t.Errorf("LOCK survives shutdown: %v", err)
	}
}
