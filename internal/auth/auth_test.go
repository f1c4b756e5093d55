package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	want := renderclient.Credentials{Username: "alice", Password: "s3cret"}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != want {
		t.Fatalf("Load = %+v, want %+v", *got, want)
	}
}

func TestSavePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits don't apply on windows")
	}
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := Save(path, renderclient.Credentials{Username: "a", Password: "b"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("permissions = %v, want 0600", perm)
	}
}
