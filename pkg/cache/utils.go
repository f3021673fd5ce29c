package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// GenerateKeyWithParams creates a cache key with multiple parameters.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		fmt.Fprintf(&b, ":%v", param)
	}
	return b.String()
}

// HashKey generates MD5 hash of a key.
func HashKey(key string) string {
	hasher := md5.New()
	hasher.Write([]byte(key))
	return hex.EncodeToString(hasher.Sum(nil))
}

// BuildPattern creates a Redis pattern for key matching.
func BuildPattern(prefix string) string {
	return fmt.Sprintf("%s*", prefix)
}

func encodeValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeValue(raw string, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = raw
		return nil
	case *[]byte:
		*d = []byte(raw)
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

// listBounds converts Redis-style inclusive indexes into a Go slice range over n items.
func listBounds(n int, start, stop int64) (int, int, bool) {
	size := int64(n)
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop) + 1, true
}
