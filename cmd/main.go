package main

import (
	"os"

	"github.com/graphmend/graphmend/cmd/graphmend"
)

func main() {
	if err := graphmend.Execute(); err != nil {
		os.Exit(1)
	}
}
