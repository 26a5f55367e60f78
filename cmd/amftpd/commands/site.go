package commands

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amftpd/amftpd/internal/cli/prompt"
)

var (
	siteAddr string
	siteUser string
)

var siteCmd = &cobra.Command{
	Use:   "site <command> [args...]",
	Short: "Run a SITE command against a running daemon",
	Long: `Dial a running amftpd instance's control port and run one SITE
command, printing the server's reply. Useful for operator scripting
without an interactive FTP client.

Example:
  amftpd site --addr localhost:2121 --user admin USERS`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSite,
}

func init() {
	siteCmd.Flags().StringVar(&siteAddr, "addr", "localhost:2121", "Control address of the running daemon")
	siteCmd.Flags().StringVar(&siteUser, "user", "admin", "Account to authenticate as")
}

func runSite(cmd *cobra.Command, args []string) error {
	conn, err := net.DialTimeout("tcp", siteAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", siteAddr, err)
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	if _, err := readReply(rw); err != nil {
		return fmt.Errorf("failed to read banner: %w", err)
	}

	if err := sendCommand(rw, "USER "+siteUser); err != nil {
		return err
	}
	if _, err := readReply(rw); err != nil {
		return fmt.Errorf("USER failed: %w", err)
	}

	password, err := prompt.Password("Password")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if err := sendCommand(rw, "PASS "+password); err != nil {
		return err
	}
	loginReply, err := readReply(rw)
	if err != nil {
		return fmt.Errorf("PASS failed: %w", err)
	}
	if code, _ := replyCode(loginReply); code != 230 {
		return fmt.Errorf("login failed: %s", strings.Join(loginReply, " "))
	}

	siteLine := "SITE " + strings.Join(args, " ")
	if err := sendCommand(rw, siteLine); err != nil {
		return err
	}
	reply, err := readReply(rw)
	if err != nil {
		return fmt.Errorf("failed to read SITE reply: %w", err)
	}
	for _, line := range reply {
		fmt.Println(line)
	}

	sendCommand(rw, "QUIT")
	return nil
}

func sendCommand(rw *bufio.ReadWriter, line string) error {
	if _, err := rw.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return rw.Flush()
}

// readReply reads one FTP reply, following a multi-line "NNN-text" /
// "NNN text" continuation until the final "NNN text" line (RFC 959 §4.2).
func readReply(rw *bufio.ReadWriter) ([]string, error) {
	var lines []string
	var code string
	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return lines, err
		}
		line = strings.TrimRight(line, "\r\n")
		lines = append(lines, line)
		if len(line) < 4 {
			continue
		}
		if code == "" {
			code = line[:3]
			if line[3] == ' ' {
				return lines, nil
			}
			continue
		}
		if strings.HasPrefix(line, code+" ") {
			return lines, nil
		}
	}
}

func replyCode(lines []string) (int, bool) {
	if len(lines) == 0 || len(lines[0]) < 3 {
		return 0, false
	}
	code, err := strconv.Atoi(lines[0][:3])
	if err != nil {
		return 0, false
	}
	return code, true
}
