package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/routeflow/
var version = "dev"

func versionString() string {
	s := version
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, kv := range info.Settings {
			if kv.Key == "vcs.revision" && len(kv.Value) >= 7 {
				s += " (" + kv.Value[:7] + ")"
			}
		}
	}
	return fmt.Sprintf("routeflow %s %s/%s %s", s, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func printVersion() {
	fmt.Println(versionString())
}
