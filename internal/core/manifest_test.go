package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const validManifest = `name: counter
version: 1.0.0
wasm:
  file: counter.wasm
entry: main_for_host
author: platform team
license: MIT
`

// emptyWasm is a valid Wasm 1.0 module with no sections.
var emptyWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// writeCore creates a core directory holding manifest and, when wasmFile
// is non-empty, an empty Wasm module under that name.
func writeCore(t *testing.T, dir, manifest, wasmFile string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if wasmFile != "" {
		if err := os.WriteFile(filepath.Join(dir, wasmFile), emptyWasm, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestParseManifest_Valid(t *testing.T) {
	dir := writeCore(t, t.TempDir(), validManifest, "counter.wasm")

	manifest, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Name != "counter" {
		t.Errorf("expected Name 'counter', got '%s'", manifest.Name)
	}

	if manifest.Version != "1.0.0" {
		t.Errorf("expected Version '1.0.0', got '%s'", manifest.Version)
	}

	if manifest.Wasm.File != "counter.wasm" {
		t.Errorf("expected Wasm.File 'counter.wasm', got '%s'", manifest.Wasm.File)
	}

	if manifest.Entry != "main_for_host" {
		t.Errorf("expected Entry 'main_for_host', got '%s'", manifest.Entry)
	}

	if manifest.ImportModule != "" {
		t.Errorf("expected empty ImportModule, got '%s'", manifest.ImportModule)
	}
}

func TestParseManifest_NotFound(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonexistent")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for nonexistent directory")
	}

	var notFound *ManifestNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	dir := writeCore(t, t.TempDir(), "name: [unterminated\n", "")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for invalid YAML")
	}

	if _, ok := err.(*ManifestParseError); !ok {
		t.Errorf("expected ManifestParseError, got %T", err)
	}
}

func TestParseManifest_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		manifest  string
		wantField string
	}{
		{
			name:      "missing name",
			manifest:  "version: 1.0.0\nwasm:\n  file: counter.wasm\n",
			wantField: "name",
		},
		{
			name:      "missing version",
			manifest:  "name: counter\nwasm:\n  file: counter.wasm\n",
			wantField: "version",
		},
		{
			name:      "version not semver",
			manifest:  "name: counter\nversion: latest\nwasm:\n  file: counter.wasm\n",
			wantField: "version",
		},
		{
			name:      "missing wasm file",
			manifest:  "name: counter\nversion: 1.0.0\nwasm:\n  size: 12\n",
			wantField: "wasm.file",
		},
		{
			name:      "wasm file without extension",
			manifest:  "name: counter\nversion: 1.0.0\nwasm:\n  file: counter.bin\n",
			wantField: "wasm.file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeCore(t, t.TempDir(), tt.manifest, "counter.wasm")

			_, err := ParseManifest(dir)
			if err == nil {
				t.Fatal("ParseManifest() should fail")
			}

			validationErr, ok := err.(*ManifestValidationError)
			if !ok {
				t.Fatalf("expected ManifestValidationError, got %T: %v", err, err)
			}

			if validationErr.Field != tt.wantField {
				t.Errorf("expected Field '%s', got '%s'", tt.wantField, validationErr.Field)
			}
		})
	}
}

func TestParseManifest_WasmNotFound(t *testing.T) {
	dir := writeCore(t, t.TempDir(), validManifest, "")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for missing Wasm file")
	}

	wasmErr, ok := err.(*WasmNotFoundError)
	if !ok {
		t.Fatalf("expected WasmNotFoundError, got %T", err)
	}
	if wasmErr.WasmFile != "counter.wasm" {
		t.Errorf("expected WasmFile 'counter.wasm', got '%s'", wasmErr.WasmFile)
	}
}

func TestManifest_Paths(t *testing.T) {
	dir := writeCore(t, t.TempDir(), validManifest, "counter.wasm")

	manifest, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Path() != filepath.Join(dir, "manifest.yaml") {
		t.Errorf("unexpected Path '%s'", manifest.Path())
	}
	if manifest.WasmPath() != filepath.Join(dir, "counter.wasm") {
		t.Errorf("unexpected WasmPath '%s'", manifest.WasmPath())
	}
	if manifest.Dir() != dir {
		t.Errorf("expected Dir '%s', got '%s'", dir, manifest.Dir())
	}
}
