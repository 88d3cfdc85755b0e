package logging

import "testing"

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if parseLevel("not-a-level") != parseLevel("info") {
		t.Fatalf("expected unknown levels to fall back to info")
	}
}

func TestNewBuildsSugaredLogger(t *testing.T) {
	log, err := New("debug")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	defer log.Sync()
}
