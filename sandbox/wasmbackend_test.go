// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWasmStartMissingModule(t *testing.T) {
	adapter := &wasmAdapter{}
	cfg, err := Config{
		Flavor:      FlavorWasm,
		Interpreter: filepath.Join(t.TempDir(), "no-such.wasm"),
	}.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}

	_, _, err = adapter.start(context.Background(), cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err == nil {
		t.Fatal("start succeeded with a missing module")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}
	if !strings.Contains(err.Error(), "read wasm module") {
		t.Errorf("error = %v", err)
	}
}

func TestWasmStartInvalidModule(t *testing.T) {
	dir := t.TempDir()
	module := filepath.Join(dir, "broken.wasm")
	if err := os.WriteFile(module, []byte("not a wasm module"), 0o644); err != nil {
		t.Fatal(err)
	}

	adapter := &wasmAdapter{}
	cfg, err := Config{
		Flavor:      FlavorWasm,
		Interpreter: module,
	}.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}

	_, _, err = adapter.start(context.Background(), cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err == nil {
		t.Fatal("start succeeded with an invalid module")
	}
	if !strings.Contains(err.Error(), "compile wasm module") {
		t.Errorf("error = %v", err)
	}
}
