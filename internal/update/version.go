package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// VersionFile is the descriptor fetched from each firmware base URL.
const VersionFile = "version.json"

var (
	// ErrChecksumMismatch means the downloaded bytes do not hash to the
	// descriptor's value.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrChecksumInvalid means the descriptor carries no usable checksum.
	ErrChecksumInvalid = errors.New("descriptor checksum missing or not hexadecimal")
)

// VersionInfo is the remote version descriptor. Either checksum field
// may be set; crc32 wins when both are.
type VersionInfo struct {
	Version  uint32 `json:"version"`
	CRC32    string `json:"crc32,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// Expected returns the descriptor's CRC32. Hex is case-insensitive and
// may carry a 0x prefix.
func (v VersionInfo) Expected() (uint32, error) {
	s := v.CRC32
	if s == "" {
		s = v.Checksum
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, ErrChecksumInvalid
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrChecksumInvalid, s)
	}
	return uint32(n), nil
}

// Verify checks data against the descriptor's CRC32 (IEEE).
func Verify(data []byte, info VersionInfo) error {
	want, err := info.Expected()
	if err != nil {
		return err
	}
	if got := crc32.ChecksumIEEE(data); got != want {
		return fmt.Errorf("%w: expected %08x, got %08x", ErrChecksumMismatch, want, got)
	}
	return nil
}

// FetchVersion retrieves {baseURL}/version.json.
func FetchVersion(ctx context.Context, client *http.Client, baseURL string) (VersionInfo, error) {
	body, err := get(ctx, client, baseURL+"/"+VersionFile, maxDescriptorSize)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("fetching version: %w", err)
	}
	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return VersionInfo{}, fmt.Errorf("decoding version: %w", err)
	}
	return info, nil
}

const (
	maxDescriptorSize = 64 << 10
	maxArtifactSize   = 128 << 20
)

func get(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("GET %s: response exceeds %d bytes", url, limit)
	}
	return data, nil
}
