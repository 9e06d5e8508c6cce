package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/axi-im/axicore/internal/daemon"
)

func main() {
	dirFlag := flag.String("dir", "", "accounts directory (default ~/.axicore)")
	flag.Parse()

	dir := *dirFlag
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		dir = filepath.Join(home, ".axicore")
	}

	app := fx.New(
		daemon.Module(daemon.Params{AccountsDir: dir}),
	)

	app.Run()
}
