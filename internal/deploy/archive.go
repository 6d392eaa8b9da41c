package deploy

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// WriteZip writes the bundle as a zip archive rooted at the site slug.
// Entries carry the manifest timestamp so identical bundles zip identically.
func (b *Bundle) WriteZip(w io.Writer) error {
	return b.writeZip(w, b.Site.Slug+"/")
}

func (b *Bundle) writeZip(w io.Writer, prefix string) error {
	zw := zip.NewWriter(w)
	for _, f := range b.Files {
		hdr := &zip.FileHeader{
			Name:     prefix + f.Path,
			Method:   zip.Deflate,
			Modified: b.Manifest.UpdatedAt,
		}
		hdr.SetMode(0o644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", f.Path, err)
		}
		if _, err := io.WriteString(fw, f.Content); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip: %w", err)
	}
	return nil
}

// Zip returns the zip archive in memory.
func (b *Bundle) Zip() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WriteZip(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ZipName is the suggested download file name.
func (b *Bundle) ZipName() string {
	return fmt.Sprintf("%s-%s.zip", b.Site.Slug, b.Site.Hosting)
}

// WriteDir writes every file below dir, creating it when needed.
func (b *Bundle) WriteDir(dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, f := range b.Files {
		target := filepath.Join(root, filepath.FromSlash(f.Path))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("refusing to write outside %s: %s", root, f.Path)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return nil
}
