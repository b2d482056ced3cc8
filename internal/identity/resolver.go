// Package identity derives stable tender identity keys from scraped fields.
// Platforms expose different subsets of identifiers inconsistently, so
// resolution falls through a fixed preference order and always terminates in
// a deterministic URL hash.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/model"
)

// cigPattern is the generic platform reference code shape: 10 alphanumerics.
var cigPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// bandoPattern accepts platform-issued numeric bando identifiers.
var bandoPattern = regexp.MustCompile(`^\d{1,18}$`)

// sessionParams are query parameters stripped during URL normalization.
// They vary between visits without changing the page identity.
var sessionParams = map[string]bool{
	"jsessionid":   true,
	"phpsessid":    true,
	"sessionid":    true,
	"session":      true,
	"sid":          true,
	"token":        true,
	"ts":           true,
	"timestamp":    true,
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
}

// Resolver maps a scraped tender's raw fields to a stable identity key.
// Resolution is pure: the same raw input always yields the same key.
type Resolver struct {
	rules map[string]compiledRule
}

type compiledRule struct {
	codeLength int
	pattern    *regexp.Regexp
}

// NewResolver compiles per-platform reference code rules.
func NewResolver(cfg config.IdentityConfig) (*Resolver, error) {
	rules := make(map[string]compiledRule, len(cfg.Platforms))
	for platform, rule := range cfg.Platforms {
		cr := compiledRule{codeLength: rule.CodeLength}
		if rule.CodePattern != "" {
			re, err := regexp.Compile(rule.CodePattern)
			if err != nil {
				return nil, eris.Wrapf(err, "identity: compile code pattern for %s", platform)
			}
			cr.pattern = re
		}
		rules[strings.ToLower(platform)] = cr
	}
	return &Resolver{rules: rules}, nil
}

// Resolve returns the identity key for a raw tender scraped from platform.
// Preference order: well-formed platform reference code, platform-namespaced
// bando number, hash of the normalized detail URL. An error means the raw
// record carries no usable identity at all.
func (r *Resolver) Resolve(platform string, raw model.RawTender) (string, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))

	if code := r.referenceCode(platform, raw.Values[model.RawFieldReferenceCode]); code != "" {
		return "cig:" + code, nil
	}

	if bando := strings.TrimSpace(raw.Values[model.RawFieldBandoNumber]); bandoPattern.MatchString(bando) {
		// Numeric IDs collide across platforms; namespace them.
		return platform + ":bando:" + bando, nil
	}

	if detailURL := strings.TrimSpace(raw.Values[model.RawFieldDetailURL]); detailURL != "" {
		normalized, err := NormalizeURL(detailURL)
		if err == nil {
			sum := sha256.Sum256([]byte(normalized))
			return platform + ":url:" + hex.EncodeToString(sum[:8]), nil
		}
	}

	return "", eris.Errorf("identity: no usable identifier for platform %s", platform)
}

// referenceCode validates a candidate reference code against the platform
// rule, falling back to the generic CIG shape. Malformed candidates are
// treated as absent, never as errors.
func (r *Resolver) referenceCode(platform, candidate string) string {
	candidate = strings.ToUpper(strings.TrimSpace(candidate))
	if candidate == "" {
		return ""
	}

	rule, ok := r.rules[platform]
	if ok && rule.pattern != nil {
		if rule.pattern.MatchString(candidate) {
			return candidate
		}
		return ""
	}
	if ok && rule.codeLength > 0 {
		if len(candidate) == rule.codeLength && alphanumeric(candidate) {
			return candidate
		}
		return ""
	}
	if cigPattern.MatchString(candidate) {
		return candidate
	}
	return ""
}

func alphanumeric(s string) bool {
	for _, c := range s {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// NormalizeURL canonicalizes a detail-page URL for hashing: lowercases the
// scheme and host, strips session and tracking query parameters, drops the
// fragment and trims the trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", eris.Wrap(err, "identity: parse url")
	}
	if u.Host == "" {
		return "", eris.Errorf("identity: url without host: %s", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if sessionParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}
