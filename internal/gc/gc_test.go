// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gc

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("creating fixture file %s: %v", path, err)
	}
	return path
}

// Um artefato rastreado com seu sentinel CORRECT sobrevive; um artefato
// não referenciado é removido.
func TestClean_OrphanRemovedTrackedSurvives(t *testing.T) {
	dir := t.TempDir()
	tracked := touch(t, dir, "backup_100_n1_Lw==")
	touch(t, dir, "backup_100_n1_Lw==.CORRECT")
	orphan := touch(t, dir, "backup_200_n1_Lw==")

	valid := map[string]struct{}{tracked: {}}

	deleted, err := Clean(dir, valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != orphan {
		t.Fatalf("expected only %s to be deleted, got %v", orphan, deleted)
	}

	if _, err := os.Stat(tracked); err != nil {
		t.Errorf("expected tracked artifact to remain: %v", err)
	}
	if _, err := os.Stat(tracked + ".CORRECT"); err != nil {
		t.Errorf("expected CORRECT sentinel of a tracked artifact to remain: %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("expected orphan to be removed, stat error: %v", err)
	}
}

func TestClean_RunningTaskWIPSurvives(t *testing.T) {
	dir := t.TempDir()
	running := touch(t, dir, "backup_300_n1_Lw==")
	touch(t, dir, "backup_300_n1_Lw==.WIP")

	valid := map[string]struct{}{running: {}}

	deleted, err := Clean(dir, valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected nothing deleted for a live running task, got %v", deleted)
	}
}

func TestClean_IdempotentSecondRun(t *testing.T) {
	dir := t.TempDir()
	tracked := touch(t, dir, "backup_100_n1_Lw==")
	touch(t, dir, "backup_200_n1_Lw==")

	valid := map[string]struct{}{tracked: {}}

	if _, err := Clean(dir, valid); err != nil {
		t.Fatalf("unexpected error on first clean: %v", err)
	}
	deleted, err := Clean(dir, valid)
	if err != nil {
		t.Fatalf("unexpected error on second clean: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected second GC run to be a no-op, got %v", deleted)
	}
}

func TestClean_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	deleted, err := Clean(dir, map[string]struct{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected no deletions in an empty directory, got %v", deleted)
	}
}

func TestClean_MissingDirectory(t *testing.T) {
	if _, err := Clean(filepath.Join(t.TempDir(), "missing"), map[string]struct{}{}); err == nil {
		t.Fatal("expected error for a missing backup directory")
	}
}

func TestFirstSegment(t *testing.T) {
	cases := map[string]string{
		"backup_100_n1_Lw==":          "backup_100_n1_Lw==",
		"backup_100_n1_Lw==.CORRECT":  "backup_100_n1_Lw==",
		"backup_100_n1_Lw==.WIP":      "backup_100_n1_Lw==",
		"no-dot-at-all":               "no-dot-at-all",
		"multiple.dots.in.name.CORRECT": "multiple",
	}
	for input, want := range cases {
		if got := firstSegment(input); got != want {
			t.Errorf("firstSegment(%q) = %q, want %q", input, got, want)
		}
	}
}
