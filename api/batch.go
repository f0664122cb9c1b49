package api

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
)

// maxExportSize bounds the decompressed size of export.bin.
const maxExportSize = 16 << 20

// WriteBatch writes a retrieval archive holding the serialized export to w.
func WriteBatch(w io.Writer, export *KeyExport) error {
	zw := zip.NewWriter(w)

	f, err := zw.Create(ExportBinName)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", ExportBinName, err)
	}
	if _, err := f.Write(MarshalKeyExport(export)); err != nil {
		return fmt.Errorf("could not write %s: %w", ExportBinName, err)
	}

	return zw.Close()
}

// ParseBatch reads export.bin out of a retrieval archive.
func ParseBatch(data []byte) (*KeyExport, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: batch is not a zip archive: %v", interfaces.ErrDecode, err)
	}

	for _, f := range zr.File {
		if f.Name != ExportBinName {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
		}
		defer rc.Close()

		raw, err := io.ReadAll(io.LimitReader(rc, maxExportSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
		}
		if len(raw) > maxExportSize {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", interfaces.ErrDecode, ExportBinName, maxExportSize)
		}
		return UnmarshalKeyExport(raw)
	}

	return nil, fmt.Errorf("%w: %s missing from batch", interfaces.ErrDecode, ExportBinName)
}
