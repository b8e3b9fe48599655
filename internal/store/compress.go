package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

func compressContent(content string) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := io.WriteString(writer, content); err != nil {
		return nil, fmt.Errorf("compress content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish compressed content: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressContent(raw []byte) (string, error) {
	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open compressed content: %w", err)
	}
	defer reader.Close()

	plain, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("decompress content: %w", err)
	}
	return string(plain), nil
}
