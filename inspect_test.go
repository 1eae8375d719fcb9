package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetraminz/sign_labels/internal/archive"
)

func TestInspectArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newlabels.train")
	writeTestArchive(t, path, sampleArchive("SI_train", "b", "a", "c"), archive.FormatPickle)

	var buf bytes.Buffer
	if err := InspectArchive(&buf, path, "", 2); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	out := buf.String()
	for _, token := range []string{
		"format=pickle",
		"tag=SI_train",
		"entries=3",
		"total_frames=9",
		"length_mismatches=0",
		`"SI_train/a"`,
		`"SI_train/b"`,
		`"SI_train/a/images0001.png"`,
	} {
		if !strings.Contains(out, token) {
			t.Fatalf("inspect output missing %q:\n%s", token, out)
		}
	}
	if strings.Contains(out, `"SI_train/c"`) {
		t.Fatalf("limit not applied:\n%s", out)
	}
}

func TestInspectArchiveByBareKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.dev")
	writeTestArchive(t, path, sampleArchive("SI_dev", "x", "y"), archive.FormatJSON)

	var buf bytes.Buffer
	if err := InspectArchive(&buf, path, "y", 0); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(buf.String(), `"SI_dev/y"`) || strings.Contains(buf.String(), `"SI_dev/x"`) {
		t.Fatalf("unexpected inspect output:\n%s", buf.String())
	}

	if err := InspectArchive(&buf, path, "missing", 0); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
