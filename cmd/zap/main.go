package main

import (
	"fmt"
	"os"

	"github.com/zaplabs/zap-server/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "zap-server:", err)
		os.Exit(1)
	}
}
