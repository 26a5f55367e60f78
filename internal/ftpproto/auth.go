package ftpproto

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/amftpd/amftpd/internal/logger"
	"github.com/amftpd/amftpd/internal/rulescript"
	"github.com/amftpd/amftpd/internal/userstore"
)

func handleUSER(r *Router, ctx context.Context, s *Session, arg string) {
	if r.RequireTLSForAuth && !s.TLSActive() {
		s.WriteReply(codeTLSRequired, "Please upgrade to TLS before authenticating.")
		return
	}
	s.PendingUser = arg
	s.Account = nil

	if strings.EqualFold(arg, "anonymous") {
		s.WriteReply(codeUsernameOK, "Anonymous login ok, send your email as password.")
		return
	}
	s.WriteReply(codeUsernameOK, "Password required for "+arg+".")
}

func handlePASS(r *Router, ctx context.Context, s *Session, arg string) {
	if s.PendingUser == "" {
		s.WriteReply(codeBadSequence, "Login with USER first.")
		return
	}

	acct, err := r.Store.TryAuthenticate(s.PendingUser, arg)
	if err != nil {
		s.Counters.FailedLogins++
		if r.Ban != nil {
			if tcp, ok := s.RemoteEndpoint.(*net.TCPAddr); ok {
				r.Ban.NotifyFailedLogin(tcp.IP)
			}
		}
		switch err {
		case userstore.ErrAccountDisabled:
			s.WriteReply(codeNotLoggedIn, "This account has been disabled.")
		case userstore.ErrExceedsConcurrentLogins:
			s.WriteReply(codeNotLoggedIn, "Too many concurrent logins for this account.")
		default:
			s.WriteReply(codeNotLoggedIn, "Login or password incorrect.")
		}
		return
	}

	if r.IdentEnabled {
		if tcp, ok := s.RemoteEndpoint.(*net.TCPAddr); ok {
			if user, identErr := r.Ident.Lookup(ctx, tcp.IP, 21, tcp.Port); identErr == nil {
				s.IdentUser = user
			} else if acct.Ident.RequireMatch {
				r.Store.OnLogout(acct.Name)
				s.WriteReply(codeNotLoggedIn, "Ident lookup required but failed.")
				return
			}
		}
	}
	if acct.Ident.RequireMatch && !strings.EqualFold(acct.Ident.RequiredIdent, s.IdentUser) {
		r.Store.OnLogout(acct.Name)
		s.WriteReply(codeNotLoggedIn, "Ident mismatch.")
		return
	}

	userCtx := rulescript.Context{User: acct.Name, Group: acct.PrimaryGroup, Event: "USER"}
	if res, hookErr := r.host().EvaluateUser(userCtx); hookErr == nil && res.Action == rulescript.Deny {
		r.Store.OnLogout(acct.Name)
		reason := res.DenyReason
		if reason == "" {
			reason = "Login denied by policy."
		}
		s.WriteReply(codeNotLoggedIn, reason)
		return
	}
	groupCtx := rulescript.Context{User: acct.Name, Group: acct.PrimaryGroup, Event: "USER"}
	if res, hookErr := r.host().EvaluateGroup(groupCtx); hookErr == nil && res.Action == rulescript.Deny {
		r.Store.OnLogout(acct.Name)
		reason := res.DenyReason
		if reason == "" {
			reason = "Login denied by group policy."
		}
		s.WriteReply(codeNotLoggedIn, reason)
		return
	}

	s.Account = &acct
	s.PendingUser = ""
	s.CWD = acct.Home
	if s.CWD == "" {
		s.CWD = "/"
	}
	logger.Info("session authenticated", "session", s.ID, "user", acct.Name)
	s.WriteReply(codeLoginOK, replyLoginSuccessful)
}

func handleAUTH(r *Router, ctx context.Context, s *Session, arg string) {
	if !strings.EqualFold(arg, "TLS") && !strings.EqualFold(arg, "TLS-C") {
		s.WriteReply(codeNotImplParam, "Unsupported AUTH mechanism.")
		return
	}
	if r.TLSConfig == nil {
		s.WriteReply(codeNotImplParam, "TLS is not configured on this server.")
		return
	}
	if err := s.WriteReply(codeTLSReady, replyTLSReady); err != nil {
		return
	}
	if err := s.UpgradeTLS(ctx, r.TLSConfig); err != nil {
		logger.Warn("TLS handshake failed", "session", s.ID, "err", err)
		s.Close()
		s.QuitRequested = true
	}
}

func handlePBSZ(r *Router, ctx context.Context, s *Session, arg string) {
	s.WriteReply(codeCommandOK, replyPBSZOK)
}

func handlePROT(r *Router, ctx context.Context, s *Session, arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "C":
		s.Protection = ProtClear
		s.WriteReply(codeCommandOK, "Protection set to Clear.")
	case "P":
		if !s.TLSActive() || r.TLSConfig == nil {
			s.WriteReply(codeActionNotTaken, "PROT P requires an active TLS control channel.")
			return
		}
		s.Protection = ProtPrivate
		s.WriteReply(codeCommandOK, "Protection set to Private.")
	default:
		s.WriteReply(codeNotImplParam, "Unsupported protection level.")
	}
}

func handleFEAT(r *Router, ctx context.Context, s *Session, arg string) {
	s.WriteMultiline(codeSystemStatus, []string{
		"Features:",
		" UTF8",
		" EPSV",
		" EPRT",
		" PASV",
		" PBSZ",
		" PROT",
		" AUTH TLS",
		" SIZE",
		" MDTM",
		" REST STREAM",
		" MLSD",
		" MLST",
		"End",
	})
}

func handleSYST(r *Router, ctx context.Context, s *Session, arg string) {
	s.WriteReply(codeSystemType, replyUnixType)
}

func handleOPTS(r *Router, ctx context.Context, s *Session, arg string) {
	if strings.EqualFold(arg, "UTF8 ON") {
		s.WriteReply(codeCommandOK, "UTF8 set to on.")
		return
	}
	s.WriteReply(codeCommandOK, "OK.")
}

func handleNOOP(r *Router, ctx context.Context, s *Session, arg string) {
	s.WriteReply(codeCommandOK, "NOOP ok.")
}

func handleQUIT(r *Router, ctx context.Context, s *Session, arg string) {
	s.WriteReply(codeGoodbye, replyGoodbye)
	s.QuitRequested = true
	if s.Account != nil {
		r.Store.OnLogout(s.Account.Name)
	}
}

func handleHELP(r *Router, ctx context.Context, s *Session, arg string) {
	if arg != "" {
		s.WriteReply(codeHelp, fmt.Sprintf("Syntax: %s (...)", strings.ToUpper(arg)))
		return
	}
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	lines := []string{"The following commands are recognized."}
	lines = append(lines, strings.Join(names, " "))
	s.WriteMultiline(codeHelp, append(lines, "HELP command successful."))
}
