package httputil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
)

// MaxBodyBytes caps request bodies decoded by DecodeJSONStrict.
const MaxBodyBytes = 1 << 20

// DecodeJSONStrict decodes the request body as JSON with strict validation.
// It disallows unknown fields and bodies larger than MaxBodyBytes.
func DecodeJSONStrict(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// DecodeBase64 decodes a base64-encoded string to bytes. Both the standard
// and URL-safe alphabets are accepted.
func DecodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// EncodeBase64 encodes bytes to a base64-encoded string.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// QueryParamInt returns the integer value of a query parameter clamped to
// [min, max], or defaultValue if not present or invalid.
func QueryParamInt(r *http.Request, key string, defaultValue, min, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	if i < min {
		return min
	}
	if i > max {
		return max
	}
	return i
}
