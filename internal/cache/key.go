package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
)

// Key derives the deterministic cache key for a calculation type and its
// parameters. Parameters are sorted by name and stringified, so two calls
// with the same parameters always hash identically regardless of map
// iteration order, and any parameter change produces a different key.
func Key(t CalcType, params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(t.String())
	for _, name := range names {
		b.WriteByte('\n')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(keyValue(params[name]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// keyValue stringifies one parameter value. Types cast cannot handle
// (maps, structs) fall back to fmt, which renders maps with sorted keys;
// collapsing them all to "" would let distinct values share a key.
func keyValue(v any) string {
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return s
}

// FileHash returns the hex SHA-256 of a file's contents. Computations that
// depend on input files put this in their key parameters, so the key moves
// whenever the bytes change even under a stable path.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "cache: hash %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "cache: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
