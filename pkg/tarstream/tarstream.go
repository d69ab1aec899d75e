// Package tarstream builds the single-entry tar archives used to push
// files into a running container through the engine's upload-archive
// endpoint, without shelling out to an external tool.
package tarstream

import (
	"archive/tar"
	"bytes"
	"fmt"
	"path"
	"time"
)

// Single encodes one regular file as a complete in-memory ustar archive:
// a 512-byte header, the content padded to a 512-byte boundary, and the
// two trailing zero blocks that mark end-of-archive.
func Single(name string, mode int64, content []byte) ([]byte, error) {
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("tarstream: invalid entry name %q", name)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:     name,
		Mode:     mode,
		Size:     int64(len(content)),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("tarstream: write header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return nil, fmt.Errorf("tarstream: write content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("tarstream: close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// SplitTarget splits an absolute in-container destination into the upload
// directory and the archive entry name: the engine extracts the archive
// under the parent directory, so the entry carries the final path
// component.
func SplitTarget(containerPath string) (dir, base string) {
	return path.Dir(containerPath), path.Base(containerPath)
}
