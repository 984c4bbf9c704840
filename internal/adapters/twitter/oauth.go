package twitter

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// oauthSigner signs requests per OAuth 1.0a, as documented at
// https://developer.twitter.com/en/docs/authentication/oauth-1-0a/creating-a-signature
type oauthSigner struct {
	consumerKey    string
	consumerSecret string
	token          string
	tokenSecret    string
	sigMethod      string
	version        string

	// Overridable for deterministic tests.
	nonce func() string
	now   func() time.Time
}

func newOAuthSigner(consumerKey, consumerSecret, token, tokenSecret string) *oauthSigner {
	return &oauthSigner{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		token:          token,
		tokenSecret:    tokenSecret,
		sigMethod:      "HMAC-SHA1",
		version:        "1.0",
		nonce:          randomNonce,
		now:            time.Now,
	}
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("twitter: generate nonce: %v", err))
	}
	return hex.EncodeToString(buf)
}

// authorize computes the oauth_signature over the request and query parameters
// and sets the Authorization header. The URL passed to the base string must
// not carry the query; query parameters enter through params.
func (s *oauthSigner) authorize(req *http.Request, params url.Values) {
	oauth := [][2]string{
		{"oauth_consumer_key", s.consumerKey},
		{"oauth_nonce", s.nonce()},
		{"oauth_signature_method", s.sigMethod},
		{"oauth_timestamp", strconv.FormatInt(s.now().Unix(), 10)},
		{"oauth_token", s.token},
		{"oauth_version", s.version},
	}

	all := make([][2]string, 0, len(oauth)+len(params))
	all = append(all, oauth...)
	for key, vals := range params {
		for _, val := range vals {
			all = append(all, [2]string{key, val})
		}
	}

	baseURL := *req.URL
	baseURL.RawQuery = ""
	baseURL.Fragment = ""
	base := signatureBaseString(req.Method, baseURL.String(), all)

	signKey := percentEncode(s.consumerSecret) + "&" + percentEncode(s.tokenSecret)
	mac := hmac.New(sha1.New, []byte(signKey))
	mac.Write([]byte(base))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	oauth = append(oauth, [2]string{"oauth_signature", signature})
	sort.Slice(oauth, func(i, j int) bool {
		return percentEncode(oauth[i][0]) < percentEncode(oauth[j][0])
	})

	var header strings.Builder
	header.WriteString("OAuth ")
	for i, pair := range oauth {
		if i > 0 {
			header.WriteString(", ")
		}
		header.WriteString(percentEncode(pair[0]))
		header.WriteString(`="`)
		header.WriteString(percentEncode(pair[1]))
		header.WriteString(`"`)
	}
	req.Header.Set("Authorization", header.String())
}

// signatureBaseString builds METHOD&encode(url)&encode(sorted k=v pairs).
func signatureBaseString(method, baseURL string, params [][2]string) string {
	pairs := make([]string, 0, len(params))
	for _, pair := range params {
		pairs = append(pairs, percentEncode(pair[0])+"="+percentEncode(pair[1]))
	}
	sort.Strings(pairs)
	return strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" +
		percentEncode(strings.Join(pairs, "&"))
}

// percentEncode implements RFC 3986 encoding: every byte outside the
// unreserved set becomes %XX.
func percentEncode(s string) string {
	var buf strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			buf.WriteByte(c)
		default:
			fmt.Fprintf(&buf, "%%%02X", c)
		}
	}
	return buf.String()
}
