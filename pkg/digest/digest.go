/*
 *     Copyright 2020 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package digest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	// AlgorithmSHA256 is the only algorithm used for content addressing.
	AlgorithmSHA256 = digest.SHA256

	// FilenameSeparator replaces ':' in digests used as file names.
	FilenameSeparator = "-"

	readBufferSize = 4 << 20
)

// SHA256FromStrings computes the hex encoded sha256 of the concatenated values.
func SHA256FromStrings(values ...string) string {
	if len(values) == 0 {
		return ""
	}

	h := sha256.New()
	for _, content := range values {
		if _, err := h.Write([]byte(content)); err != nil {
			return ""
		}
	}

	return ToHashString(h)
}

// FromBytes returns the canonical digest, like sha256:<hex>, of data.
func FromBytes(data []byte) string {
	return digest.FromBytes(data).String()
}

// HashFile returns the canonical digest of the file content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	d, err := AlgorithmSHA256.FromReader(bufio.NewReaderSize(f, readBufferSize))
	if err != nil {
		return "", err
	}

	return d.String(), nil
}

// Validate checks d is a well formed sha256 digest.
func Validate(d string) error {
	parsed, err := digest.Parse(d)
	if err != nil {
		return err
	}

	if parsed.Algorithm() != AlgorithmSHA256 {
		return fmt.Errorf("unsupported digest algorithm %s", parsed.Algorithm())
	}

	return nil
}

// Verify checks that data hashes to d.
func Verify(d string, data []byte) error {
	parsed, err := digest.Parse(d)
	if err != nil {
		return err
	}

	verifier := parsed.Verifier()
	if _, err := verifier.Write(data); err != nil {
		return err
	}

	if !verifier.Verified() {
		return errors.New("content does not match digest")
	}

	return nil
}

// Filename converts sha256:<hex> into sha256-<hex>.
func Filename(d string) string {
	return strings.Replace(d, ":", FilenameSeparator, 1)
}

// Encoded returns the hex portion of the digest.
func Encoded(d string) string {
	if i := strings.Index(d, ":"); i >= 0 {
		return d[i+1:]
	}

	return d
}

func ToHashString(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Copy hashes everything read from r into w and returns the canonical digest.
func Copy(w io.Writer, r io.Reader) (string, int64, error) {
	digester := AlgorithmSHA256.Digester()
	n, err := io.Copy(io.MultiWriter(w, digester.Hash()), r)
	if err != nil {
		return "", n, err
	}

	return digester.Digest().String(), n, nil
}
