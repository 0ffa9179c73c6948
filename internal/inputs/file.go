// internal/inputs/file.go
package inputs

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ReadDocument reads all of r, decompressing it first when it is a zstd frame.
func ReadDocument(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to read document")
	}
	if !bytes.Equal(head, zstdMagic) {
		data, err := io.ReadAll(br)
		return data, errors.Wrap(err, "failed to read document")
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd decoder")
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress document")
	}
	return data, nil
}

// LoadFile parses the JSON document at path, which may be zstd-compressed.
func LoadFile[T core.Float](path string) (QKV[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return QKV[T]{}, errors.Wrap(err, "failed to open input file")
	}
	defer f.Close()

	doc, err := ReadDocument(f)
	if err != nil {
		return QKV[T]{}, errors.Wrap(err, path)
	}
	in, err := ParseJSON[T](doc)
	if err != nil {
		return QKV[T]{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	return in, nil
}
