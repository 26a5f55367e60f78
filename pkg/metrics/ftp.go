package metrics

import "time"

// FTPMetrics provides observability for the FTP(S) daemon: session
// lifecycle, command dispatch, transfers, credit accounting and bans. The
// interface is optional, mirroring the teacher's NFSMetrics design — pass
// nil to disable metrics collection with zero overhead.
type FTPMetrics interface {
	// RecordCommand records one dispatched control-channel command.
	RecordCommand(verb string, duration time.Duration, replyCode int)

	// SetActiveSessions updates the current control-session count.
	SetActiveSessions(count int32)

	// RecordSessionOpened increments the total accepted sessions counter.
	RecordSessionOpened()

	// RecordSessionClosed increments the total closed sessions counter.
	RecordSessionClosed()

	// SetActiveDataConnections updates the current data-connection count.
	SetActiveDataConnections(count int32)

	// RecordTransfer records one completed RETR/STOR/APPE.
	RecordTransfer(direction string, section string, bytes int64, duration time.Duration, ok bool)

	// RecordCreditCharge records a download charge or upload credit in KB.
	RecordCreditCharge(kind string, section string, kb int64)

	// RecordBanApplied increments the total bans-applied counter.
	RecordBanApplied()

	// RecordFailedLogin increments the total failed-login counter.
	RecordFailedLogin()
}
