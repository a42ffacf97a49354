package attestation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
)

// FileMinter reads a token the platform drops on disk.
type FileMinter struct {
	Path string
}

// Mint implements Minter.
func (m FileMinter) Mint(_ context.Context) ([]byte, error) {
	if m.Path == "" {
		return nil, perrors.ErrAttestationNotSupported
	}
	data, err := os.ReadFile(m.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s missing", perrors.ErrAttestationNotSupported, m.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", perrors.ErrAttestationFailed, m.Path, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", perrors.ErrAttestationUnknown, m.Path)
	}
	return data, nil
}
