package ftpproto

import (
	"context"
	"net"
	"strings"

	"github.com/amftpd/amftpd/internal/pathutil"
	"github.com/amftpd/amftpd/internal/vfs"
)

func handleLIST(r *Router, ctx context.Context, s *Session, arg string) { runListing(r, ctx, s, arg, listingUnix) }
func handleNLST(r *Router, ctx context.Context, s *Session, arg string) { runListing(r, ctx, s, arg, listingNames) }
func handleMLSD(r *Router, ctx context.Context, s *Session, arg string) { runListing(r, ctx, s, arg, listingMLSD) }

type listingKind int

const (
	listingUnix listingKind = iota
	listingNames
	listingMLSD
)

// runListing implements LIST/NLST/MLSD per §4.12.4: check can_list, open the
// data channel, stream lines, close, reply 226.
func runListing(r *Router, ctx context.Context, s *Session, arg string, kind listingKind) {
	target := arg
	if target == "" {
		target = "."
	}
	virt := pathutil.Normalize(s.CWD, target)

	if !r.DirAccess.Evaluate(virt).CanList {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return
	}

	entries, err := r.FS.ReadDir(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "Failed to list directory.")
		return
	}

	if err := s.WriteReply(codeFileStatusOK, replyFileStatusOK); err != nil {
		return
	}
	if err := ensureDataChannel(ctx, r, s); err != nil {
		s.WriteReply(codeDataConnFailed, "Cannot open data connection: "+err.Error())
		return
	}

	var lines []string
	for _, e := range entries {
		switch kind {
		case listingUnix:
			lines = append(lines, vfs.UnixListLine(e, s.Account.Name, s.Account.PrimaryGroup))
		case listingNames:
			lines = append(lines, e.Name)
		case listingMLSD:
			lines = append(lines, vfs.MLSDLine(e))
		}
	}
	payload := strings.Join(lines, "\r\n")
	if len(lines) > 0 {
		payload += "\r\n"
	}

	err = s.Data.Send(func(conn net.Conn) error {
		_, werr := conn.Write([]byte(payload))
		return werr
	})
	s.Data = nil
	if err != nil {
		s.WriteReply(codeTransferAborted, replyTransferAborted)
		return
	}
	s.WriteReply(codeDataClose, replyClosingData)
}

func handleMLST(r *Router, ctx context.Context, s *Session, arg string) {
	target := arg
	if target == "" {
		target = s.CWD
	}
	virt := pathutil.Normalize(s.CWD, target)

	if !r.DirAccess.Evaluate(virt).CanList {
		s.WriteReply(codeActionNotTaken, "Permission denied.")
		return
	}

	phys, err := r.FS.MapToPhysical(virt)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}
	_ = phys
	parent := pathutil.Dir(virt)
	entries, err := r.FS.ReadDir(parent)
	if err != nil {
		s.WriteReply(codeActionNotTaken, "File not found.")
		return
	}
	base := pathutil.Base(virt)
	for _, e := range entries {
		if e.Name == base {
			s.WriteMultiline(codeActionOK, []string{"Listing " + virt, vfs.MLSDLine(e), "End"})
			return
		}
	}
	s.WriteReply(codeActionNotTaken, "File not found.")
}
