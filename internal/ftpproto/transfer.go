package ftpproto

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/amftpd/amftpd/internal/credit"
	"github.com/amftpd/amftpd/internal/logger"
	"github.com/amftpd/amftpd/internal/pathutil"
	"github.com/amftpd/amftpd/internal/xferlog"
)

func handleRETR(r *Router, ctx context.Context, s *Session, arg string) {
	rest := consumeRest(s)

	if arg == "" {
		s.WriteReply(codeSyntaxArgs, "RETR requires a path argument.")
		return
	}
	virt := pathutil.Normalize(s.CWD, arg)
	if !r.DirAccess.Evaluate(virt).CanDownload {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return
	}
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}
	info, err := os.Stat(phys)
	if err != nil || info.IsDir() {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}

	length := info.Size() - rest
	if length < 0 {
		length = 0
	}

	section := r.Sections.Resolve(virt)
	charge, err := r.Credit.EvaluateDownload(section, length, s.Account.Name, s.Account.PrimaryGroup, virt, phys)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "Not enough credits for download.")
		return
	}
	if err := credit.CheckSufficient(s.Account.CreditsKB, charge.CostKB); err != nil {
		s.WriteReply(codeActionNotTaken, "Not enough credits for download.")
		return
	}

	f, err := os.Open(phys)
	if err != nil {
		s.WriteReply(codeLocalError, replyLocalError)
		return
	}
	defer f.Close()
	if rest > 0 {
		if _, err := f.Seek(rest, 0); err != nil {
			s.WriteReply(codeActionNotTaken, "Could not seek to requested offset.")
			return
		}
	}

	if err := s.WriteReply(codeFileStatusOK, replyFileStatusOK); err != nil {
		return
	}
	if err := ensureDataChannel(ctx, r, s); err != nil {
		s.WriteReply(codeDataConnFailed, "Cannot open data connection: "+err.Error())
		return
	}

	conn := s.Data.Conn()
	start := time.Now()
	n, copyErr := ThrottledCopy(conn, f, s.Account.MaxDownloadKBps)
	closeErr := s.Data.Close()
	s.Data = nil

	r.logTransfer(s, virt, n, time.Since(start), xferlog.Outgoing, copyErr == nil && closeErr == nil)

	if copyErr != nil || closeErr != nil {
		s.WriteReply(codeTransferAborted, replyTransferAborted)
		return
	}

	updated, _ := s.Account.ChargeCredits(charge.CostKB)
	*s.Account = updated
	if err := r.Store.TryUpdate(updated); err != nil {
		logger.Warn("failed to persist credit charge", "user", updated.Name, "err", err)
	}
	if err := r.zipscript().OnDownload(virt, phys, length); err != nil {
		logger.Warn("zipscript OnDownload failed", "path", virt, "err", err)
	}
	s.WriteReply(codeDataClose, replyClosingData)
}

func handleSTOR(r *Router, ctx context.Context, s *Session, arg string) {
	storeFile(r, ctx, s, arg, false)
}

func handleAPPE(r *Router, ctx context.Context, s *Session, arg string) {
	storeFile(r, ctx, s, arg, true)
}

func storeFile(r *Router, ctx context.Context, s *Session, arg string, appendMode bool) {
	rest := consumeRest(s)
	if appendMode {
		rest = 0
	}

	if arg == "" {
		s.WriteReply(codeSyntaxArgs, "STOR requires a path argument.")
		return
	}
	virt := pathutil.Normalize(s.CWD, arg)
	parent := pathutil.Dir(virt)
	if !r.DirAccess.Evaluate(parent).CanUpload {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return
	}

	section := r.Sections.Resolve(virt)
	filename := filepath.Base(virt)
	if !appendMode && r.Dupes != nil {
		if _, found, err := r.Dupes.IsDupe(section.Name, filename); err != nil {
			logger.Warn("dupe check failed", "path", virt, "err", err)
		} else if found {
			s.WriteReply(codeActionNotTaken, "Duplicate filename, upload rejected.")
			return
		}
	}

	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "Invalid path.")
		return
	}
	if err := os.MkdirAll(filepath.Dir(phys), 0o755); err != nil {
		s.WriteReply(codeLocalError, replyLocalError)
		return
	}

	flags := os.O_WRONLY | os.O_CREATE
	switch {
	case appendMode:
		flags |= os.O_APPEND
	case rest > 0:
		// OpenOrCreate + explicit seek, per §4.12.5.
	default:
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(phys, flags, 0o644)
	if err != nil {
		s.WriteReply(codeLocalError, replyLocalError)
		return
	}
	defer f.Close()
	if !appendMode && rest > 0 {
		if _, err := f.Seek(rest, 0); err != nil {
			s.WriteReply(codeActionNotTaken, "Could not seek to requested offset.")
			return
		}
	}

	if err := s.WriteReply(codeFileStatusOK, replyFileStatusOK); err != nil {
		return
	}
	if err := ensureDataChannel(ctx, r, s); err != nil {
		s.WriteReply(codeDataConnFailed, "Cannot open data connection: "+err.Error())
		return
	}

	conn := s.Data.Conn()
	start := time.Now()
	n, copyErr := ThrottledCopy(f, conn, s.Account.MaxUploadKBps)
	closeErr := s.Data.Close()
	s.Data = nil
	syncErr := f.Sync()

	ok := copyErr == nil && closeErr == nil && syncErr == nil
	r.logTransfer(s, virt, n, time.Since(start), xferlog.Incoming, ok)

	if !ok {
		s.WriteReply(codeTransferAborted, replyTransferAborted)
		return
	}

	charge, chargeErr := r.Credit.EvaluateUpload(section, n, s.Account.Name, s.Account.PrimaryGroup, virt, phys)
	if chargeErr == nil && charge.EarnedKB > 0 {
		updated := s.Account.EarnCredits(charge.EarnedKB)
		*s.Account = updated
		if err := r.Store.TryUpdate(updated); err != nil {
			logger.Warn("failed to persist credit earnings", "user", updated.Name, "err", err)
		}
	}

	if err := r.zipscript().OnUpload(virt, phys, n); err != nil {
		logger.Warn("zipscript OnUpload failed", "path", virt, "err", err)
	}
	r.Race.RegisterUpload(s.Account.Name, pathutil.Dir(virt), section.Name, n)

	if r.Dupes != nil {
		if err := r.Dupes.MarkUploaded(section.Name, filename, virt, s.Account.Name); err != nil {
			logger.Warn("failed to record dupe entry", "path", virt, "err", err)
		}
	}

	s.WriteReply(codeDataClose, replyClosingData)
}

// logTransfer appends an xferlog entry for a completed RETR/STOR/APPE, a
// no-op when the router has no configured transfer log.
func (r *Router) logTransfer(s *Session, virt string, n int64, d time.Duration, dir xferlog.Direction, completed bool) {
	if r.Xferlog == nil {
		return
	}
	host := ""
	if s.RemoteEndpoint != nil {
		if addr, ok := s.RemoteEndpoint.(*net.TCPAddr); ok {
			host = addr.IP.String()
		} else {
			host = s.RemoteEndpoint.String()
		}
	}
	r.Xferlog.Log(xferlog.Entry{
		RemoteHost:    host,
		Bytes:         n,
		Filename:      virt,
		Direction:     dir,
		User:          s.Account.Name,
		Duration:      d,
		Completed:     completed,
		IdentVerified: s.IdentUser != "",
		IdentUser:     s.IdentUser,
	})
}

// consumeRest returns the pending REST offset (0 if none) and clears it;
// REST is scoped to the very next data command (§4.12.8).
func consumeRest(s *Session) int64 {
	if s.RestOffset == nil {
		return 0
	}
	n := *s.RestOffset
	s.RestOffset = nil
	return n
}
