package mexc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// sign computes HMAC_SHA256(secret, urlencode(sort_by_key(params))) in
// lower-hex, matching the exchange's authenticated-request contract.
// url.Values.Encode already sorts keys, giving the canonical string.
func sign(secretKey string, params url.Values) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}
