// Command amftpd is the managed FTP(S) daemon for scene-style distribution
// sites: a multi-session RFC 959/2228/2389/3659 server with FXP policy,
// per-directory access rules, credit/ratio accounting, race tracking, a
// SITE command surface, and an encrypted WAL-durable user store.
package main

import (
	"fmt"
	"os"

	"github.com/amftpd/amftpd/cmd/amftpd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
