package main

import (
	"fmt"
	"os"

	"github.com/personachat/chat-proxy/internal/cmd"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := cmd.Execute(cmd.BuildInfo{Version: Version, BuildTime: BuildTime}); err != nil {
		fmt.Fprintf(os.Stderr, "personachat: %v\n", err)
		os.Exit(1)
	}
}
