// capd is the Capacitor daemon: it observes hook events from locally
// running assistant CLI sessions and answers status queries over a Unix
// domain socket.
package main

import (
	"os"

	"github.com/capacitor-hq/capd/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
