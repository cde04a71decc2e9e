package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssets(t *testing.T) {
	assets := []Asset{
		{Filename: "image-00.png", MIME: "image/png", Data: []byte("one")},
		{Filename: "image-01.png", MIME: "image/png", Data: []byte("two")},
	}

	archive := ArchiveAssets(assets)
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(zr.File))
	}
	for i, want := range []string{"one", "two"} {
		if got := zr.File[i].Name; got != assets[i].Filename {
			t.Fatalf("entry %d name = %q, want %q", i, got, assets[i].Filename)
		}
		rc, err := zr.File[i].Open()
		if err != nil {
			t.Fatalf("open entry %d: %v", i, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil || string(data) != want {
			t.Fatalf("entry %d = %q (err %v), want %q", i, data, err, want)
		}
	}
}

func TestArchiveAssetsEmpty(t *testing.T) {
	archive := ArchiveAssets(nil)
	if _, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive))); err != nil {
		t.Fatalf("empty archive unreadable: %v", err)
	}
}
