package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/tomasvik/docpipe/internal/common"
)

// Fingerprint streams the file through SHA-256 and returns the lowercase hex
// digest plus the byte count consumed. Identical content always produces the
// identical fingerprint regardless of file name or location.
func Fingerprint(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, common.NewAppError(common.CodeExtractionFailed,
			fmt.Sprintf("open %s for fingerprinting", path), err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, common.NewAppError(common.CodeExtractionFailed,
			fmt.Sprintf("read %s for fingerprinting", path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
