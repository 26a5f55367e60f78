package ftpproto

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/amftpd/amftpd/internal/credit"
	"github.com/amftpd/amftpd/internal/dupestore"
	"github.com/amftpd/amftpd/internal/ident"
	"github.com/amftpd/amftpd/internal/logger"
	"github.com/amftpd/amftpd/internal/policy"
	"github.com/amftpd/amftpd/internal/race"
	"github.com/amftpd/amftpd/internal/rulescript"
	"github.com/amftpd/amftpd/internal/userstore"
	"github.com/amftpd/amftpd/internal/vfs"
	"github.com/amftpd/amftpd/internal/xferlog"
)

// unauthenticatedAllowlist is the command set reachable before login (§4.12.1).
var unauthenticatedAllowlist = map[string]bool{
	"USER": true, "PASS": true, "AUTH": true, "FEAT": true,
	"SYST": true, "OPTS": true, "NOOP": true, "QUIT": true, "HELP": true,
}

// BanNotifier is consulted on every failed PASS so the server's ban list
// (C14) can apply a threshold-triggered IP ban.
type BanNotifier interface {
	NotifyFailedLogin(remoteIP net.IP)
}

// Router dispatches control-channel commands for one session against the
// daemon's shared policy engines (C12). One Router is shared by every
// session; all per-connection state lives on the Session.
type Router struct {
	Store             *userstore.Store
	FS                *vfs.FS
	DirAccess         *policy.DirectoryAccessEvaluator
	Sections          *policy.SectionManager
	Credit            *credit.Engine
	Race              *race.Engine
	Fxp               *policy.FxpPolicy
	Host              rulescript.Host
	Site              *SiteRegistry
	Sessions          *SessionRegistry
	Ident             ident.Client
	IdentEnabled      bool
	Ban               BanNotifier
	ServerName        string
	BindAddress       string
	PassiveHost       string
	PassiveRange      PortRange
	TLSConfig         *tls.Config
	RequireTLSForAuth bool
	LogsDir           string

	Zipscript Zipscript // best-effort notification hooks, see zipscript.go
	Archive   Archiver  // optional archive-on-nuke/wipe offload, nil disables it
	Xferlog   *xferlog.Logger // optional xferlog-format transfer log, nil disables it
	Dupes     *dupestore.Store // optional upload dedup index, nil disables dupe checks
}

// Archiver offloads a nuked or wiped release directory before it is
// permanently lost, giving operators a recovery window (DOMAIN STACK:
// SITE NUKE/WIPE archive hook).
type Archiver interface {
	// ArchiveDir tars and uploads dir (already renamed to its .NUKED path)
	// for virtPath. Best-effort: callers log and continue on error.
	ArchiveDir(ctx context.Context, virtPath, dir string) error
	// ArchiveAndRemove tars and uploads dir, then removes it, used by
	// SITE WIPE in place of a bare os.RemoveAll.
	ArchiveAndRemove(ctx context.Context, virtPath, dir string) error
}

func (r *Router) host() rulescript.Host {
	if r.Host == nil {
		return rulescript.NullHost{}
	}
	return r.Host
}

// Banner returns the 220 banner line.
func (r *Router) Banner() string {
	name := r.ServerName
	if name == "" {
		name = "amftpd"
	}
	return fmt.Sprintf("220 %s ready.", name)
}

// Serve runs the control read loop for one accepted session until
// disconnect, idle timeout, or QUIT (§4.12.8).
func (r *Router) Serve(ctx context.Context, s *Session) {
	defer s.Close()
	if r.Sessions != nil {
		r.Sessions.Register(s)
		defer r.Sessions.Unregister(s)
	}

	if err := s.WriteReply(codeBanner, strings.TrimPrefix(r.Banner(), "220 ")); err != nil {
		return
	}

	for {
		line, err := s.ReadLine(ctx)
		if err != nil {
			if err == ErrIdleTimeout {
				s.WriteReply(codeIdleTimeout, replyIdleTimeout)
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg := splitCommand(line)
		s.Counters.TotalCommands++

		r.dispatch(ctx, s, verb, arg)

		if s.QuitRequested {
			return
		}
	}
}

func splitCommand(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return strings.ToUpper(line), ""
	}
	return strings.ToUpper(line[:idx]), strings.TrimSpace(line[idx+1:])
}

// dispatch applies the gating order from §4.12.1 and then routes to a
// per-command handler.
func (r *Router) dispatch(ctx context.Context, s *Session, verb, arg string) {
	if !s.Authenticated() && !unauthenticatedAllowlist[verb] {
		s.WriteReply(codeNotLoggedIn, replyNotLoggedIn)
		return
	}

	if s.Authenticated() {
		if denied, reason := r.groupScriptDenies(s, verb, arg); denied {
			s.WriteReply(codeActionNotTaken, withCRLFSafe(reason))
			return
		}
		if denied, reply := r.staticFlagDenies(s, verb); denied {
			s.WriteReply(reply.code, reply.text)
			return
		}
	}

	handler, ok := commandTable[verb]
	if !ok {
		s.WriteReply(codeNotImplemented, fmt.Sprintf("Unknown command '%s'.", verb))
		return
	}
	handler(r, ctx, s, arg)
}

type deniedReply struct {
	code int
	text string
}

// staticFlagDenies enforces the per-account boolean flags that gate whole
// command families (§4.12.1 step 3), e.g. AllowUpload gates STOR/APPE.
func (r *Router) staticFlagDenies(s *Session, verb string) (bool, deniedReply) {
	acct := *s.Account
	switch verb {
	case "STOR", "APPE":
		if !acct.Flags.AllowUpload {
			return true, deniedReply{codeActionNotTaken, "Uploads not permitted for this account."}
		}
	case "RETR":
		if !acct.Flags.AllowDownload {
			return true, deniedReply{codeActionNotTaken, "Downloads not permitted for this account."}
		}
	case "PORT", "EPRT":
		if !acct.Flags.AllowActive {
			return true, deniedReply{codeActionNotTaken, "Active mode not permitted for this account."}
		}
	}
	return false, deniedReply{}
}

// groupScriptDenies runs the attached rule-script hook at the group level
// (§4.12.1 step 2).
func (r *Router) groupScriptDenies(s *Session, verb, arg string) (bool, string) {
	ctx := rulescript.Context{
		User: s.Account.Name, Group: s.Account.PrimaryGroup,
		Event: verb, VirtualPath: arg,
	}
	result, err := r.host().EvaluateGroup(ctx)
	if err != nil {
		logger.Warn("group rule evaluation failed", "err", err, "session", s.ID)
		return false, ""
	}
	if result.Action == rulescript.Deny {
		reason := result.DenyReason
		if reason == "" {
			reason = "Denied by group policy."
		}
		return true, reason
	}
	return false, ""
}

func withCRLFSafe(s string) string {
	return strings.TrimRight(s, "\r\n")
}

type handlerFunc func(r *Router, ctx context.Context, s *Session, arg string)

var commandTable = map[string]handlerFunc{
	"USER": handleUSER, "PASS": handlePASS, "AUTH": handleAUTH,
	"PBSZ": handlePBSZ, "PROT": handlePROT,
	"FEAT": handleFEAT, "SYST": handleSYST, "OPTS": handleOPTS,
	"NOOP": handleNOOP, "QUIT": handleQUIT, "HELP": handleHELP,

	"PASV": handlePASV, "EPSV": handleEPSV, "PORT": handlePORT, "EPRT": handleEPRT,
	"TYPE": handleTYPE, "REST": handleREST, "ABOR": handleABOR,

	"LIST": handleLIST, "NLST": handleNLST, "MLSD": handleMLSD, "MLST": handleMLST,

	"RETR": handleRETR, "STOR": handleSTOR, "APPE": handleAPPE,

	"DELE": handleDELE, "MKD": handleMKD, "RMD": handleRMD,
	"RNFR": handleRNFR, "RNTO": handleRNTO,
	"SIZE": handleSIZE, "MDTM": handleMDTM,
	"PWD": handlePWD, "CWD": handleCWD, "CDUP": handleCDUP,

	"SITE": handleSITE,
}
