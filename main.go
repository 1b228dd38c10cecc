package main

import (
	"github.com/openwearable/badgecore/cmd"
	"github.com/openwearable/badgecore/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
