package storage

import "testing"

func TestPageChecksums_UnrecordedLocationVerifiesClean(t *testing.T) {
	p := WithPageChecksums()
	if err := p.Verify(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("verify of unrecorded location: %v", err)
	}
}

func TestPageChecksums_DetectsMismatch(t *testing.T) {
	p := WithPageChecksums()
	p.Record(PageSize, []byte("hello"))
	if err := p.Verify(PageSize, []byte("hello")); err != nil {
		t.Fatalf("verify of unmodified content: %v", err)
	}
	if err := p.Verify(PageSize, []byte("hellp")); err == nil {
		t.Fatalf("expected mismatch to surface an error")
	}
}

func TestPageChecksums_ForgetClearsRecordedSum(t *testing.T) {
	p := WithPageChecksums()
	p.Record(0, []byte("abc"))
	p.Forget(0)
	if err := p.Verify(0, []byte("xyz")); err != nil {
		t.Fatalf("verify after forget should be clean, got: %v", err)
	}
}
