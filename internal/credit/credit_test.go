package credit

import (
	"testing"

	"github.com/amftpd/amftpd/internal/policy"
)

func TestEvaluateDownloadRatioCharge(t *testing.T) {
	e := &Engine{}
	section := policy.Section{Name: "ARCHIVE", Ratio: policy.Ratio{UploadUnit: 1, DownloadUnit: 3}}

	charge, err := e.EvaluateDownload(section, 1024*1024, "alice", "users", "/ARCHIVE/1MB.bin", "/data/ARCHIVE/1MB.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.CostKB != 3072 {
		t.Errorf("got cost=%d, want 3072", charge.CostKB)
	}
}

func TestEvaluateDownloadFreeLeechIsFree(t *testing.T) {
	e := &Engine{}
	section := policy.Section{Name: "FREE", FreeLeech: true, Ratio: policy.Ratio{UploadUnit: 1, DownloadUnit: 5}}

	charge, err := e.EvaluateDownload(section, 5*1024, "alice", "users", "/FREE/x", "/data/FREE/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.CostKB != 0 {
		t.Errorf("got cost=%d, want 0 for free-leech section", charge.CostKB)
	}
}

func TestEvaluateDownloadZeroBytesNoCharge(t *testing.T) {
	e := &Engine{}
	section := policy.Section{Ratio: policy.Ratio{UploadUnit: 1, DownloadUnit: 3}}
	charge, err := e.EvaluateDownload(section, 500, "alice", "users", "/x", "/data/x")
	if err != nil {
		t.Fatal(err)
	}
	if charge.CostKB != 0 {
		t.Errorf("got cost=%d, want 0 for sub-1KB transfer", charge.CostKB)
	}
}

func TestEvaluateUploadRatioEarnings(t *testing.T) {
	e := &Engine{}
	section := policy.Section{Ratio: policy.Ratio{UploadUnit: 1, DownloadUnit: 2}}
	charge, err := e.EvaluateUpload(section, 1024*1024, "alice", "users", "/x", "/data/x")
	if err != nil {
		t.Fatal(err)
	}
	if charge.EarnedKB != 2048 {
		t.Errorf("got earned=%d, want 2048", charge.EarnedKB)
	}
}

func TestEvaluateUploadFreeLeechOneToOne(t *testing.T) {
	e := &Engine{}
	section := policy.Section{FreeLeech: true, Ratio: policy.Ratio{UploadUnit: 1, DownloadUnit: 5}}
	charge, err := e.EvaluateUpload(section, 1024*1024, "alice", "users", "/x", "/data/x")
	if err != nil {
		t.Fatal(err)
	}
	if charge.EarnedKB != 1024 {
		t.Errorf("got earned=%d, want 1024 (1:1 under free-leech)", charge.EarnedKB)
	}
}

func TestCheckSufficient(t *testing.T) {
	if err := CheckSufficient(2048, 3072); err != ErrInsufficientCredits {
		t.Errorf("got %v, want ErrInsufficientCredits", err)
	}
	if err := CheckSufficient(3072, 3072); err != nil {
		t.Errorf("got %v, want nil for exact balance", err)
	}
}

func TestNukePenaltyAwayFromZeroRounding(t *testing.T) {
	if got := NukePenalty(4096, 3); got != 12288 {
		t.Errorf("got %d, want 12288", got)
	}
	if got := NukePenalty(2048, 3); got != 6144 {
		t.Errorf("got %d, want 6144", got)
	}
}

func TestRoundAwayFromZeroHalfCases(t *testing.T) {
	if got := roundAwayFromZero(0.5); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
	if got := roundAwayFromZero(1.5); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	if got := roundAwayFromZero(2.5); got != 3 {
		t.Errorf("got %d, want 3 (away-from-zero, not banker's which would give 2)", got)
	}
	if got := roundAwayFromZero(-2.5); got != -3 {
		t.Errorf("got %d, want -3", got)
	}
}
