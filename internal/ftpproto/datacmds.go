package ftpproto

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/amftpd/amftpd/internal/policy"
)

func dataTLSConfig(r *Router, s *Session) *tls.Config {
	if s.Protection == ProtPrivate && r.TLSConfig != nil {
		return r.TLSConfig
	}
	return nil
}

func handlePASV(r *Router, ctx context.Context, s *Session, arg string) {
	s.Data = NewDataConnection(dataTLSConfig(r, s))
	port, err := s.Data.StartPassive(r.PassiveHost, r.PassiveRange)
	if err != nil {
		s.WriteReply(codeDataConnFailed, "Cannot open passive connection.")
		return
	}

	host := r.PassiveHost
	if host == "" || host == "0.0.0.0" {
		if local, ok := s.LocalAddr().(*net.TCPAddr); ok {
			host = local.IP.String()
		}
	}
	ip := net.ParseIP(host).To4()
	p1, p2 := port/256, port%256
	if ip == nil {
		s.WriteReply(codeEnteringPassive, fmt.Sprintf("Entering Passive Mode (127,0,0,1,%d,%d).", p1, p2))
		return
	}
	s.WriteReply(codeEnteringPassive, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], p1, p2))
}

func handleEPSV(r *Router, ctx context.Context, s *Session, arg string) {
	s.Data = NewDataConnection(dataTLSConfig(r, s))
	port, err := s.Data.StartPassive(r.PassiveHost, r.PassiveRange)
	if err != nil {
		s.WriteReply(codeDataConnFailed, "Cannot open passive connection.")
		return
	}
	s.WriteReply(codeEnteringEPSV, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
}

func handlePORT(r *Router, ctx context.Context, s *Session, arg string) {
	addr, err := parsePORT(arg)
	if err != nil {
		s.WriteReply(codeSyntaxArgs, "Illegal PORT command.")
		return
	}
	startActiveTransfer(r, s, addr)
}

func handleEPRT(r *Router, ctx context.Context, s *Session, arg string) {
	addr, err := parseEPRT(arg)
	if err != nil {
		s.WriteReply(codeSyntaxArgs, "Illegal EPRT command.")
		return
	}
	startActiveTransfer(r, s, addr)
}

func startActiveTransfer(r *Router, s *Session, addr *net.TCPAddr) {
	controlIP := controlPeerIP(s)
	s.IsFXP = controlIP != nil && !addr.IP.Equal(controlIP)

	if s.IsFXP {
		decision := r.Fxp.Evaluate(policy.FxpRequest{
			User: s.Account.Name, IsAdmin: s.Account.Flags.Admin,
			Section: r.Sections.Resolve(s.CWD).Name, VirtualPath: s.CWD,
			Direction: policy.Outgoing, RemoteIP: addr.IP,
			ControlTLS: s.TLSActive(), DataTLS: s.Protection == ProtPrivate,
			DataProtected: s.Protection == ProtPrivate, AccountAllowFXP: s.Account.Flags.AllowFXP,
		})
		if !decision.Allowed {
			s.WriteReply(codeNotImplParam, decision.DenyReason)
			return
		}
	}

	s.Data = NewDataConnection(dataTLSConfig(r, s))
	if err := s.Data.SetActive(context.Background(), addr); err != nil {
		s.WriteReply(codeDataConnFailed, "Cannot open active connection.")
		return
	}
	s.WriteReply(codeCommandOK, "PORT command successful.")
}

func controlPeerIP(s *Session) net.IP {
	if tcp, ok := s.RemoteEndpoint.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}

// parsePORT parses "h1,h2,h3,h4,p1,p2" (§4.12.3).
func parsePORT(arg string) (*net.TCPAddr, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("ftpproto: malformed PORT argument %q", arg)
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("ftpproto: malformed PORT octet %q", p)
		}
		nums[i] = n
	}
	ip := net.IPv4(byte(nums[0]), byte(nums[1]), byte(nums[2]), byte(nums[3]))
	port := nums[4]*256 + nums[5]
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// parseEPRT parses "|1|h|p|" / "|2|h|p|" (RFC 2428).
func parseEPRT(arg string) (*net.TCPAddr, error) {
	parts := strings.Split(strings.Trim(arg, "|"), "|")
	if len(parts) != 3 {
		return nil, fmt.Errorf("ftpproto: malformed EPRT argument %q", arg)
	}
	ip := net.ParseIP(parts[1])
	if ip == nil {
		return nil, fmt.Errorf("ftpproto: malformed EPRT address %q", parts[1])
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("ftpproto: malformed EPRT port %q", parts[2])
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

func handleTYPE(r *Router, ctx context.Context, s *Session, arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "I", "A":
		s.WriteReply(codeCommandOK, replyTypeSetOK)
	default:
		s.WriteReply(codeNotImplParam, "Unsupported type.")
	}
}

func handleREST(r *Router, ctx context.Context, s *Session, arg string) {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n < 0 {
		s.WriteReply(codeSyntaxArgs, "REST requires a non-negative integer.")
		return
	}
	s.RestOffset = &n
	s.WriteReply(codeRestartMarker, fmt.Sprintf("Restarting at %d. Send STORE or RETRIEVE.", n))
}

func handleABOR(r *Router, ctx context.Context, s *Session, arg string) {
	if s.Data != nil {
		s.Data.Close()
		s.Data = nil
		s.Counters.AbortedTransfers++
		if s.Reputation < Suspect {
			s.Reputation = Suspect
		}
	}
	s.WriteReply(codeAborted226, replyAbortSuccessful)
}
