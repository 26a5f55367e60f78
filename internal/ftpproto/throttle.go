package ftpproto

import (
	"io"
	"time"

	"github.com/amftpd/amftpd/pkg/bufpool"
)

const throttleBufferSize = 64 << 10 // 64 KiB, per §4.12.5

// ThrottledCopy copies from src to dst, honoring maxKBps with a 1-second
// token-window limiter: cumulative bytes written in the current window are
// tracked, and once they exceed maxKBps*1024 the copy sleeps for the
// remainder of the window before resetting it (§4.12.5). maxKBps <= 0 means
// unlimited.
func ThrottledCopy(dst io.Writer, src io.Reader, maxKBps int64) (int64, error) {
	buf := bufpool.Get(throttleBufferSize)
	defer bufpool.Put(buf)

	var total int64
	var windowStart time.Time
	var windowBytes int64
	limit := maxKBps * 1024

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)

			if limit > 0 {
				if windowStart.IsZero() {
					windowStart = time.Now()
				}
				windowBytes += int64(n)
				if windowBytes > limit {
					elapsed := time.Since(windowStart)
					if remaining := time.Second - elapsed; remaining > 0 {
						time.Sleep(remaining)
					}
					windowStart = time.Now()
					windowBytes = 0
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, readErr
		}
	}
}
