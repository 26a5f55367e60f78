package ftpproto

import (
	"context"
	"fmt"
	"os"

	"github.com/amftpd/amftpd/internal/logger"
	"github.com/amftpd/amftpd/internal/pathutil"
)

func handlePWD(r *Router, ctx context.Context, s *Session, arg string) {
	s.WriteReply(codePathCreated, fmt.Sprintf("%q", s.CWD))
}

func handleCWD(r *Router, ctx context.Context, s *Session, arg string) {
	virt := pathutil.Normalize(s.CWD, arg)
	if !r.DirAccess.Evaluate(virt).CanList {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return
	}
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "Failed to change directory.")
		return
	}
	info, err := os.Stat(phys)
	if err != nil || !info.IsDir() {
		s.WriteReply(codeActionNotTaken, "Failed to change directory.")
		return
	}
	s.CWD = virt
	s.WriteReply(codeActionOK, replyActionOK)
}

func handleCDUP(r *Router, ctx context.Context, s *Session, arg string) {
	handleCWD(r, ctx, s, "..")
}

func handleDELE(r *Router, ctx context.Context, s *Session, arg string) {
	if denied := writeDenied(r, s, arg); denied {
		return
	}
	virt := pathutil.Normalize(s.CWD, arg)
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}
	if err := os.Remove(phys); err != nil {
		s.WriteReply(codeActionNotTaken, "Could not delete file.")
		return
	}
	if err := r.zipscript().OnDelete(virt); err != nil {
		logger.Warn("zipscript OnDelete failed", "path", virt, "err", err)
	}
	s.WriteReply(codeActionOK, replyActionOK)
}

func handleMKD(r *Router, ctx context.Context, s *Session, arg string) {
	if denied := writeDenied(r, s, arg); denied {
		return
	}
	virt := pathutil.Normalize(s.CWD, arg)
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "Could not create directory.")
		return
	}
	if err := os.MkdirAll(phys, 0o755); err != nil {
		s.WriteReply(codeActionNotTaken, "Could not create directory.")
		return
	}
	s.WriteReply(codePathCreated, fmt.Sprintf("%q directory created.", virt))
}

func handleRMD(r *Router, ctx context.Context, s *Session, arg string) {
	if denied := writeDenied(r, s, arg); denied {
		return
	}
	virt := pathutil.Normalize(s.CWD, arg)
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "Could not remove directory.")
		return
	}
	if err := os.Remove(phys); err != nil {
		s.WriteReply(codeActionNotTaken, "Could not remove directory.")
		return
	}
	s.WriteReply(codeActionOK, replyActionOK)
}

func handleRNFR(r *Router, ctx context.Context, s *Session, arg string) {
	if denied := writeDenied(r, s, arg); denied {
		return
	}
	virt := pathutil.Normalize(s.CWD, arg)
	if _, err := r.FS.MapToPhysical(virt); err != nil {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}
	s.RenameFrom = virt
	s.WriteReply(codeRestartMarker, replyRenamePending)
}

func handleRNTO(r *Router, ctx context.Context, s *Session, arg string) {
	if s.RenameFrom == "" {
		s.WriteReply(codeBadSequence, "RNFR required first.")
		return
	}
	oldVirt := s.RenameFrom
	s.RenameFrom = ""

	newVirt := pathutil.Normalize(s.CWD, arg)
	if !r.DirAccess.Evaluate(pathutil.Dir(newVirt)).CanUpload {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return
	}
	oldPhys, err := r.FS.MapToPhysical(oldVirt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}
	newPhys, err := r.FS.MapToPhysical(newVirt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "Invalid destination.")
		return
	}
	if _, err := os.Stat(newPhys); err == nil {
		s.WriteReply(codeActionNotTaken, "Destination already exists.")
		return
	}
	if err := os.Rename(oldPhys, newPhys); err != nil {
		s.WriteReply(codeActionNotTaken, "Could not rename.")
		return
	}
	if err := r.zipscript().OnRename(oldVirt, newVirt); err != nil {
		logger.Warn("zipscript OnRename failed", "old", oldVirt, "new", newVirt, "err", err)
	}
	s.WriteReply(codeActionOK, replyActionOK)
}

func handleSIZE(r *Router, ctx context.Context, s *Session, arg string) {
	virt := pathutil.Normalize(s.CWD, arg)
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
	s.WriteReply(213, fmt.Sprintf("%d", info.Size()))
}

func handleMDTM(r *Router, ctx context.Context, s *Session, arg string) {
	virt := pathutil.Normalize(s.CWD, arg)
	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}
	info, err := os.Stat(phys)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}
	s.WriteReply(213, info.ModTime().UTC().Format("20060102150405"))
}

// writeDenied runs the §4.12.6 write-access check for DELE/MKD/RMD/RNFR: the
// operation requires can_upload at the parent directory.
func writeDenied(r *Router, s *Session, arg string) bool {
	if arg == "" {
		s.WriteReply(codeSyntaxArgs, "Command requires a path argument.")
		return true
	}
	virt := pathutil.Normalize(s.CWD, arg)
	if !r.DirAccess.Evaluate(pathutil.Dir(virt)).CanUpload {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return true
	}
	return false
}
