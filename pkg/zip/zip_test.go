package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssets(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "cube_project.json", Data: []byte(`{"version":"1.0.0"}`)},
		{Filename: "cube.glb", Data: []byte("glTF")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "cube_project.json" || zr.File[1].Name != "cube.glb" {
		t.Fatalf("unexpected entries: %v", zr.File)
	}
	rc, err := zr.File[1].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "glTF" {
		t.Fatalf("entry body = %q", body)
	}
}

func TestArchiveAssetsRejectsDuplicates(t *testing.T) {
	_, err := ArchiveAssets([]Asset{{Filename: "a"}, {Filename: "a"}})
	if err == nil {
		t.Fatalf("expected duplicate entry error")
	}
}
