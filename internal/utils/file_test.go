package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFileKinds(t *testing.T) {
	tests := []struct {
		name  string
		image bool
		video bool
	}{
		{"frame.JPG", true, false},
		{"frame.webp", true, false},
		{"clip.mp4", false, true},
		{"clip.MKV", false, true},
		{"notes.txt", false, false},
		{"noext", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsImageFile(tt.name); got != tt.image {
				t.Errorf("IsImageFile(%q) = %v", tt.name, got)
			}
			if got := IsVideoFile(tt.name); got != tt.video {
				t.Errorf("IsVideoFile(%q) = %v", tt.name, got)
			}
		})
	}
}

func TestFrameLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"frame2.png", "frame10.png", true},
		{"frame10.png", "frame2.png", false},
		{"frame_001.png", "frame_002.png", true},
		{"a", "a1", true},
		{"b1", "a2", false},
		{"x01", "x1", false},
		{"x1", "x01", true},
		{"same", "same", false},
	}

	for _, tt := range tests {
		if got := FrameLess(tt.a, tt.b); got != tt.want {
			t.Errorf("FrameLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"f10.png", "f2.png", "f1.jpg", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListImageFiles(dir)
	if err != nil {
		t.Fatalf("ListImageFiles failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "f1.jpg"),
		filepath.Join(dir, "f2.png"),
		filepath.Join(dir, "f10.png"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("file order mismatch (-want +got):\n%s", diff)
	}

	if _, err := ListImageFiles(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestOverlayFilename(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		index  int
		format string
		want   string
	}{
		{"named frame", "/in/frame_007.png", 7, "jpg", filepath.Join("out", "pre_frame_007_ov.jpg")},
		{"keeps input format", "/in/a.webp", 0, "", filepath.Join("out", "pre_a_ov.webp")},
		{"unnamed frame", "", 42, "png", filepath.Join("out", "pre_frame_000042_ov.png")},
		{"spaces", "my frame.png", 1, "png", filepath.Join("out", "pre_my_frame_ov.png")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverlayFilename(tt.frame, tt.index, "out", "pre_", "_ov", tt.format); got != tt.want {
				t.Errorf("OverlayFilename = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExistence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.png")
	os.WriteFile(file, []byte("x"), 0644)

	if !FileExists(file) || FileExists(dir) || FileExists(filepath.Join(dir, "nope")) {
		t.Error("FileExists misreported")
	}
	if !DirExists(dir) || DirExists(file) {
		t.Error("DirExists misreported")
	}

	nested := filepath.Join(dir, "a", "b")
	if err := EnsureDir(nested); err != nil || !DirExists(nested) {
		t.Errorf("EnsureDir failed: %v", err)
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := map[int64]string{
		512:         "512 B",
		2048:        "2.0 KB",
		5 * 1 << 20: "5.0 MB",
	}
	for size, want := range tests {
		if got := FormatFileSize(size); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", size, got, want)
		}
	}
}
