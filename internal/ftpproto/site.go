package ftpproto

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amftpd/amftpd/internal/credit"
	"github.com/amftpd/amftpd/internal/logger"
	"github.com/amftpd/amftpd/internal/pathutil"
	"github.com/amftpd/amftpd/internal/rulescript"
	"github.com/amftpd/amftpd/internal/userstore"
)

// SiteHandler is one named SITE subcommand (§4.13).
type SiteHandler struct {
	RequiresAdmin  bool
	RequiresSiteop bool
	Execute        func(r *Router, ctx context.Context, s *Session, arg string) (code int, text string)
}

// SiteRegistry dispatches SITE subcommands by case-folded, alias-mapped verb.
type SiteRegistry struct {
	handlers map[string]SiteHandler
	aliases  map[string]string
}

// NewSiteRegistry returns a registry with every mandated handler installed.
func NewSiteRegistry() *SiteRegistry {
	reg := &SiteRegistry{
		handlers: make(map[string]SiteHandler),
		aliases:  map[string]string{"PASSWD": "CHPASS", "ADDUSR": "ADDUSER"},
	}
	reg.register("HELP", SiteHandler{Execute: siteHELP})
	reg.register("WHO", SiteHandler{Execute: siteWHO})
	reg.register("USERS", SiteHandler{Execute: siteUSERS})
	reg.register("GROUPS", SiteHandler{Execute: siteGROUPS})
	reg.register("KILL", SiteHandler{RequiresSiteop: true, Execute: siteKILL})
	reg.register("CHMOD", SiteHandler{RequiresSiteop: true, Execute: siteCHMOD})
	reg.register("ADDUSER", SiteHandler{RequiresSiteop: true, Execute: siteADDUSER})
	reg.register("GADDUSER", SiteHandler{RequiresSiteop: true, Execute: siteGADDUSER})
	reg.register("CHGRP", SiteHandler{RequiresSiteop: true, Execute: siteCHGRP})
	reg.register("CHPASS", SiteHandler{RequiresSiteop: true, Execute: siteCHPASS})
	reg.register("SETLIMITS", SiteHandler{RequiresSiteop: true, Execute: siteSETLIMITS})
	reg.register("SETFLAGS", SiteHandler{RequiresSiteop: true, Execute: siteSETFLAGS})
	reg.register("ADDIP", SiteHandler{RequiresSiteop: true, Execute: siteADDIP})
	reg.register("DELIP", SiteHandler{RequiresSiteop: true, Execute: siteDELIP})
	reg.register("IDENT", SiteHandler{Execute: siteIDENT})
	reg.register("REQIDENT", SiteHandler{RequiresSiteop: true, Execute: siteREQIDENT})
	reg.register("SHOWUSER", SiteHandler{RequiresSiteop: true, Execute: siteSHOWUSER})
	reg.register("CREDITS", SiteHandler{Execute: siteCREDITS})
	reg.register("GIVECRED", SiteHandler{RequiresSiteop: true, Execute: siteGIVECRED})
	reg.register("TAKECRED", SiteHandler{RequiresSiteop: true, Execute: siteTAKECRED})
	reg.register("SECTIONS", SiteHandler{Execute: siteSECTIONS})
	reg.register("DIRFLAGS", SiteHandler{RequiresSiteop: true, Execute: siteDIRFLAGS})
	reg.register("NUKE", SiteHandler{RequiresSiteop: true, Execute: siteNUKE})
	reg.register("WIPE", SiteHandler{RequiresAdmin: true, Execute: siteWIPE})
	reg.register("MOVE", SiteHandler{RequiresSiteop: true, Execute: siteMOVE})
	reg.register("RACE", SiteHandler{Execute: siteRACE})
	reg.register("RACESTATS", SiteHandler{Execute: siteRACESTATS})
	reg.register("LASTRACES", SiteHandler{Execute: siteLASTRACES})
	reg.register("RACELOG", SiteHandler{RequiresSiteop: true, Execute: siteRACELOG})
	reg.register("SECURITY", SiteHandler{RequiresAdmin: true, Execute: siteSECURITY})
	return reg
}

func (reg *SiteRegistry) register(verb string, h SiteHandler) { reg.handlers[verb] = h }

func (reg *SiteRegistry) resolve(verb string) (string, SiteHandler, bool) {
	verb = strings.ToUpper(verb)
	if canon, ok := reg.aliases[verb]; ok {
		verb = canon
	}
	h, ok := reg.handlers[verb]
	return verb, h, ok
}

func handleSITE(r *Router, ctx context.Context, s *Session, arg string) {
	verb, rest := splitCommand(arg)
	if verb == "" {
		s.WriteReply(codeSyntaxError, "SITE requires a subcommand.")
		return
	}

	hookCtx := rulescript.Context{
		User: s.Account.Name, Group: s.Account.PrimaryGroup,
		Event: "SITE " + verb, VirtualPath: rest,
	}
	if result, err := r.host().EvaluateUser(hookCtx); err == nil {
		if result.Action == rulescript.Deny {
			reason := result.DenyReason
			if reason == "" {
				reason = "Denied by site policy."
			}
			s.WriteReply(codeActionNotTaken, reason)
			return
		}
		if result.IsSiteOverride() {
			s.WriteReply(codeCommandOK, "OK.")
			return
		}
		if result.SiteOutput != "" {
			s.WriteReply(codeCommandOK, result.SiteOutput)
			return
		}
	}

	canonical, h, ok := r.Site.resolve(verb)
	if !ok {
		s.WriteReply(codeNotImplemented, fmt.Sprintf("Unknown SITE command '%s'.", verb))
		return
	}
	if h.RequiresAdmin && !s.Account.Flags.Admin {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return
	}
	if h.RequiresSiteop && !s.Account.Flags.Admin && !s.Account.Flags.Siteop {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return
	}
	_ = canonical

	code, text := h.Execute(r, ctx, s, rest)
	s.WriteReply(code, text)
}

func siteHELP(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	names := make([]string, 0, len(r.Site.handlers))
	for name := range r.Site.handlers {
		names = append(names, name)
	}
	return codeCommandOK, "Available: " + strings.Join(names, " ")
}

func siteWHO(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	if r.Sessions == nil {
		return codeCommandOK, "No active sessions."
	}
	var lines []string
	for _, sess := range r.Sessions.Snapshot() {
		name := "?"
		if sess.Account != nil {
			name = sess.Account.Name
		}
		lines = append(lines, fmt.Sprintf("%d %s %s", sess.ID, name, sess.RemoteEndpoint))
	}
	return codeCommandOK, strings.Join(lines, "; ")
}

func siteUSERS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	var names []string
	for _, a := range r.Store.All() {
		names = append(names, a.Name)
	}
	return codeCommandOK, strings.Join(names, " ")
}

func siteGROUPS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	seen := map[string]bool{}
	var groups []string
	for _, a := range r.Store.All() {
		if a.PrimaryGroup != "" && !seen[a.PrimaryGroup] {
			seen[a.PrimaryGroup] = true
			groups = append(groups, a.PrimaryGroup)
		}
	}
	return codeCommandOK, strings.Join(groups, " ")
}

func siteKILL(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	id, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 32)
	if err != nil {
		return codeSyntaxArgs, "KILL requires a numeric session id."
	}
	if r.Sessions == nil {
		return codeActionNotTaken, "No session registry available."
	}
	target, ok := r.Sessions.Find(uint32(id))
	if !ok {
		return codeActionNotTaken, "No such session."
	}
	target.QuitRequested = true
	target.Close()
	return codeCommandOK, "Session killed."
}

func siteCHMOD(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.SplitN(strings.TrimSpace(arg), " ", 2)
	if len(parts) != 2 {
		return codeSyntaxArgs, "CHMOD requires <mode> <path>."
	}
	mode, err := strconv.ParseUint(parts[0], 8, 32)
	if err != nil {
		return codeSyntaxArgs, "Invalid mode."
	}
	virt := pathutil.Normalize(s.CWD, parts[1])
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		return codeActionNotTaken, "File not found."
	}
	if err := os.Chmod(phys, os.FileMode(mode)); err != nil {
		return codeActionNotTaken, "Could not chmod."
	}
	return codeCommandOK, "CHMOD successful."
}

func siteADDUSER(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) < 2 {
		return codeSyntaxArgs, "ADDUSER requires <name> <password>."
	}
	hash, err := userstore.HashPassword(parts[1])
	if err != nil {
		return codeLocalError, replyLocalError
	}
	acct := userstore.Account{
		Name: parts[0], PasswordHash: hash, Home: "/",
		Flags: userstore.Flags{AllowUpload: true, AllowDownload: true, AllowActive: true},
		PrimaryGroup: "default", MaxConcurrent: 1,
	}
	if err := r.Store.TryAdd(acct); err != nil {
		return codeActionNotTaken, "User already exists."
	}
	return codeCommandOK, "User added."
}

func siteGADDUSER(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return codeSyntaxArgs, "GADDUSER requires <group> <user>."
	}
	acct, ok := r.Store.Find(parts[1])
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	acct.SecondaryGroups = append(append([]string{}, acct.SecondaryGroups...), parts[0])
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, "Added to group."
}

func siteCHGRP(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return codeSyntaxArgs, "CHGRP requires <user> <group>."
	}
	acct, ok := r.Store.Find(parts[0])
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	acct.PrimaryGroup = parts[1]
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, "Primary group changed."
}

func siteCHPASS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return codeSyntaxArgs, "CHPASS requires <user> <newpassword>."
	}
	acct, ok := r.Store.Find(parts[0])
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	hash, err := userstore.HashPassword(parts[1])
	if err != nil {
		return codeLocalError, replyLocalError
	}
	acct.PasswordHash = hash
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, "Password changed."
}

func siteSETLIMITS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 3 {
		return codeSyntaxArgs, "SETLIMITS requires <user> <max_up_kbps> <max_down_kbps>."
	}
	acct, ok := r.Store.Find(parts[0])
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	up, err1 := strconv.ParseInt(parts[1], 10, 64)
	down, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		return codeSyntaxArgs, "Limits must be integers."
	}
	acct.MaxUploadKBps = up
	acct.MaxDownloadKBps = down
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, "Limits updated."
}

func siteSETFLAGS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return codeSyntaxArgs, "SETFLAGS requires <user> <+-flag>."
	}
	acct, ok := r.Store.Find(parts[0])
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	flag := parts[1]
	enable := !strings.HasPrefix(flag, "-")
	name := strings.TrimLeft(flag, "+-")
	switch strings.ToLower(name) {
	case "upload":
		acct.Flags.AllowUpload = enable
	case "download":
		acct.Flags.AllowDownload = enable
	case "fxp":
		acct.Flags.AllowFXP = enable
	case "active":
		acct.Flags.AllowActive = enable
	case "siteop":
		acct.Flags.Siteop = enable
	case "disabled":
		acct.Disabled = enable
	default:
		return codeSyntaxArgs, "Unknown flag."
	}
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, "Flags updated."
}

func siteADDIP(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return codeSyntaxArgs, "ADDIP requires <user> <mask>."
	}
	acct, ok := r.Store.Find(parts[0])
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	acct.AllowedIPMask = parts[1]
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, "IP mask added."
}

func siteDELIP(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	acct, ok := r.Store.Find(strings.TrimSpace(arg))
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	acct.AllowedIPMask = ""
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, "IP mask cleared."
}

func siteIDENT(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	return codeCommandOK, "Your ident: " + s.IdentUser
}

func siteREQIDENT(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return codeSyntaxArgs, "REQIDENT requires <user> <ident>."
	}
	acct, ok := r.Store.Find(parts[0])
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	acct.Ident = userstore.IdentRequirement{RequireMatch: true, RequiredIdent: parts[1]}
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, "Ident requirement set."
}

func siteSHOWUSER(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	acct, ok := r.Store.Find(strings.TrimSpace(arg))
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	return codeCommandOK, fmt.Sprintf("%s group=%s credits=%dKB up=%dKBps down=%dKBps admin=%v siteop=%v disabled=%v",
		acct.Name, acct.PrimaryGroup, acct.CreditsKB, acct.MaxUploadKBps, acct.MaxDownloadKBps,
		acct.Flags.Admin, acct.Flags.Siteop, acct.Disabled)
}

func siteCREDITS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	target := strings.TrimSpace(arg)
	if target == "" {
		target = s.Account.Name
	}
	acct, ok := r.Store.Find(target)
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	return codeCommandOK, fmt.Sprintf("%s has %d KB credits.", acct.Name, acct.CreditsKB)
}

func siteGIVECRED(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	return adjustCredits(r, arg, +1)
}

func siteTAKECRED(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	return adjustCredits(r, arg, -1)
}

func adjustCredits(r *Router, arg string, sign int64) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return codeSyntaxArgs, "requires <user> <kb>."
	}
	kb, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || kb < 0 {
		return codeSyntaxArgs, "kb must be a non-negative integer."
	}
	acct, ok := r.Store.Find(parts[0])
	if !ok {
		return codeActionNotTaken, "No such user."
	}
	acct = acct.WithCredits(acct.CreditsKB + sign*kb)
	if err := r.Store.TryUpdate(acct); err != nil {
		return codeActionNotTaken, "Update failed."
	}
	return codeCommandOK, fmt.Sprintf("%s now has %d KB credits.", acct.Name, acct.CreditsKB)
}

func siteSECTIONS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	var lines []string
	for _, sec := range r.Sections.All() {
		lines = append(lines, fmt.Sprintf("%s(%s) ratio=%d:%d free=%v",
			sec.Name, sec.VirtualRoot, sec.Ratio.UploadUnit, sec.Ratio.DownloadUnit, sec.FreeLeech))
	}
	return codeCommandOK, strings.Join(lines, "; ")
}

func siteDIRFLAGS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	virt := pathutil.Normalize(s.CWD, strings.TrimSpace(arg))
	access := r.DirAccess.Evaluate(virt)
	return codeCommandOK, fmt.Sprintf("%s list=%v upload=%v download=%v", virt, access.CanList, access.CanUpload, access.CanDownload)
}

func siteNUKE(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.SplitN(strings.TrimSpace(arg), " ", 2)
	if len(parts) < 1 || parts[0] == "" {
		return codeSyntaxArgs, "NUKE requires <path> [reason]."
	}
	reason := ""
	if len(parts) == 2 {
		reason = parts[1]
	}
	virt := pathutil.Normalize(s.CWD, parts[0])
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		return codeActionNotTaken, "Release not found."
	}
	state, ok := r.Race.TryGet(virt)
	if !ok {
		return codeActionNotTaken, "No race data for this release."
	}
	section := r.Sections.Resolve(virt)
	multiplier := section.NukeMultiplier
	if multiplier == 0 {
		multiplier = 1
	}

	nukedName := fmt.Sprintf("%s.NUKED[-%d]", phys, time.Now().Unix())
	if err := os.Rename(phys, nukedName); err != nil {
		return codeActionNotTaken, "Could not rename release."
	}
	if r.Archive != nil {
		if err := r.Archive.ArchiveDir(ctx, virt, nukedName); err != nil {
			logger.Warn("archive-on-nuke failed, nuked directory kept on disk only", "path", virt, "err", err)
		}
	}

	var penalties []string
	for user, bytes := range state.UserBytes {
		kb := bytes / 1024
		earned := kb
		if !section.FreeLeech {
			earned = credit.RatioKB(kb, section.Ratio)
		}
		penalty := credit.NukePenalty(earned, multiplier)
		if acct, ok := r.Store.Find(user); ok {
			updated, charged := acct.ChargeCredits(penalty)
			if err := r.Store.TryUpdate(updated); err != nil {
				logger.Warn("failed to apply nuke penalty", "user", user, "err", err)
			}
			penalties = append(penalties, fmt.Sprintf("%s:%d:-%d=>%d", user, bytes, charged, updated.CreditsKB))
		}
	}
	if removed, ok := r.Race.Complete(virt); ok {
		appendRaceLog(r, removed, "NUKE")
	}

	logLine := fmt.Sprintf("%s | NUKE | %s | %s | %s | %.2f | %d | %d | penalties=%s\n",
		time.Now().UTC().Format(time.RFC3339), virt, s.Account.Name, reason, multiplier,
		state.TotalBytes, state.FileCount, strings.Join(penalties, ";"))
	appendLogFile(r, "nukes.log", logLine)

	hookCtx := rulescript.Context{User: s.Account.Name, VirtualPath: virt, Event: "NUKE"}
	if _, err := r.host().EvaluateUser(hookCtx); err != nil {
		logger.Warn("onNuke hook failed", "path", virt, "err", err)
	}

	return codeCommandOK, fmt.Sprintf("Nuked %s (x%.2f).", virt, multiplier)
}

func siteWIPE(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	virt := pathutil.Normalize(s.CWD, strings.TrimSpace(arg))
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		return codeActionNotTaken, "Path not found."
	}
	if r.Archive != nil {
		if err := r.Archive.ArchiveAndRemove(ctx, virt, phys); err != nil {
			logger.Warn("archive-on-wipe failed, falling back to plain removal", "path", virt, "err", err)
			if err := os.RemoveAll(phys); err != nil {
				return codeActionNotTaken, "Wipe failed."
			}
		}
	} else if err := os.RemoveAll(phys); err != nil {
		return codeActionNotTaken, "Wipe failed."
	}
	if removed, ok := r.Race.Complete(virt); ok {
		appendRaceLog(r, removed, "WIPE")
	}
	return codeCommandOK, "Wiped."
}

func siteMOVE(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return codeSyntaxArgs, "MOVE requires <src> <dst>."
	}
	src := pathutil.Normalize(s.CWD, parts[0])
	dst := pathutil.Normalize(s.CWD, parts[1])
	srcPhys, err := r.FS.MapToPhysical(src)
	if err != nil {
		return codeActionNotTaken, "Source not found."
	}
	dstPhys, err := r.FS.MapToPhysical(dst)
	if err != nil {
		return codeActionNotTaken, "Invalid destination."
	}
	if err := os.Rename(srcPhys, dstPhys); err != nil {
		return codeActionNotTaken, "Move failed."
	}
	return codeCommandOK, "Moved."
}

func siteRACE(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	virt := pathutil.Normalize(s.CWD, strings.TrimSpace(arg))
	state, ok := r.Race.TryGet(virt)
	if !ok {
		return codeActionNotTaken, "No race data for this release."
	}
	var lines []string
	for user, bytes := range state.UserBytes {
		lines = append(lines, fmt.Sprintf("%s:%dKB", user, bytes/1024))
	}
	return codeCommandOK, fmt.Sprintf("%s total=%dKB files=%d %s", virt, state.TotalBytes/1024, state.FileCount, strings.Join(lines, " "))
}

func siteRACESTATS(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	recent := r.Race.Recent(100)
	return codeCommandOK, fmt.Sprintf("%d active races tracked.", len(recent))
}

func siteLASTRACES(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	limit := 10
	if n, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil && n > 0 {
		limit = n
	}
	recent := r.Race.Recent(limit)
	var lines []string
	for _, st := range recent {
		lines = append(lines, fmt.Sprintf("%s(%dKB)", st.ReleasePath, st.TotalBytes/1024))
	}
	return codeCommandOK, strings.Join(lines, " ")
}

func siteRACELOG(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	dir := r.LogsDir
	if dir == "" {
		dir = "logs"
	}
	data, err := os.ReadFile(filepath.Join(dir, "races.log"))
	if err != nil {
		return codeCommandOK, "No log entries."
	}
	return codeCommandOK, string(data)
}

func siteSECURITY(r *Router, ctx context.Context, s *Session, arg string) (int, string) {
	return codeCommandOK, "Security audit not configured."
}
