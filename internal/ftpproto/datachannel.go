package ftpproto

import (
	"context"
	"fmt"
	"net"

	"github.com/amftpd/amftpd/internal/policy"
)

// ensureDataChannel completes whichever data connection mode is pending
// (accepting the passive client, or confirming the already-dialed active
// connection) and applies FXP classification/policy on the resulting peer,
// per §4.12.3's "FXP classification ... on data-accept" note for PASV/EPSV.
func ensureDataChannel(ctx context.Context, r *Router, s *Session) error {
	if s.Data == nil {
		return fmt.Errorf("ftpproto: no data connection announced")
	}

	if s.Data.state == dataPassiveListening {
		if err := s.Data.EnsureConnected(ctx); err != nil {
			return err
		}
		controlIP := controlPeerIP(s)
		peerIP := tcpIP(s.Data.RemoteAddr())
		if controlIP != nil && peerIP != nil && !controlIP.Equal(peerIP) {
			s.IsFXP = true
			decision := r.Fxp.Evaluate(policy.FxpRequest{
				User: s.Account.Name, IsAdmin: s.Account.Flags.Admin,
				Section: r.Sections.Resolve(s.CWD).Name, VirtualPath: s.CWD,
				Direction: policy.Incoming, RemoteIP: peerIP,
				ControlTLS: s.TLSActive(), DataTLS: s.Protection == ProtPrivate,
				DataProtected: s.Protection == ProtPrivate, AccountAllowFXP: s.Account.Flags.AllowFXP,
			})
			if !decision.Allowed {
				s.Data.Close()
				s.Data = nil
				return fmt.Errorf("ftpproto: %s", decision.DenyReason)
			}
		}
	}
	return nil
}

func tcpIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}
