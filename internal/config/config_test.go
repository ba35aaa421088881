package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tendyrelay/internal/testutil/testlog"
)

func TestTemplatesValidateAndRoundTrip(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	for _, kind := range []string{KindRelay, KindClient} {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := ValidateFile(kind, path); err != nil {
			t.Fatalf("validate %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s", path)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("overwrite %s: %v", kind, err)
		}
	}

	// The template must also load through the runtime decoder.
	var relay RelayFile
	if _, err := toml.DecodeFile(filepath.Join(dir, KindRelay+".toml"), &relay); err != nil {
		t.Fatalf("decode relay template: %v", err)
	}
	if relay.Port != 8765 || relay.ChunkSize != 16384 || relay.Magic != "TEND" || !relay.EmitComplete {
		t.Fatalf("relay template lost defaults: %+v", relay)
	}
}

func TestTemplateMentionsOverrides(t *testing.T) {
	testlog.Start(t)
	out, err := Template(KindRelay)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if !strings.Contains(out, "TENDYRELAY_PORT") || !strings.Contains(out, "port = 8765") {
		t.Fatalf("unexpected template:\n%s", out)
	}
}

func TestValidateFileRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte("port = 9000\nchunk_sise = 10\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := ValidateFile(KindRelay, path)
	if err == nil || !strings.Contains(err.Error(), "chunk_sise") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestUnknownKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("ghost"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if err := ValidateFile("ghost", "missing.toml"); err == nil {
		t.Fatalf("expected error")
	}
}
