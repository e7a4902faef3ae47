package blockdevice

import (
	"fmt"
	"net/url"

	"github.com/nexus-project/nexus/pkg/nexuserr"
)

// SchemeOf extracts and validates the scheme portion of a block-device URI.
// It does not validate scheme-specific query parameters — that is each
// backend's responsibility — but it does reject a malformed URI outright.
func SchemeOf(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", nexuserr.Wrap("blockdevice.SchemeOf", nexuserr.InvalidArguments, rawURI, err)
	}
	if u.Scheme == "" {
		return "", nexuserr.New("blockdevice.SchemeOf", nexuserr.InvalidArguments,
			fmt.Sprintf("uri %q has no scheme", rawURI))
	}
	return u.Scheme, nil
}

// RejectUnknownParams validates that query contains only keys present in
// allowed. Per the external-interface contract, unknown query parameters
// must be rejected.
func RejectUnknownParams(query url.Values, allowed ...string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	for key := range query {
		if !allowedSet[key] {
			return nexuserr.New("blockdevice.RejectUnknownParams", nexuserr.InvalidArguments,
				fmt.Sprintf("unknown query parameter %q", key))
		}
	}
	return nil
}

// ParseBlockSize validates a blk_size query parameter against the allowed
// set {512, 4096}.
func ParseBlockSize(raw string) (uint32, error) {
	var n uint32
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, nexuserr.Wrap("blockdevice.ParseBlockSize", nexuserr.InvalidArguments, raw, err)
	}
	if !ValidBlockSizes[n] {
		return 0, nexuserr.New("blockdevice.ParseBlockSize", nexuserr.InvalidArguments,
			fmt.Sprintf("blk_size must be 512 or 4096, got %d", n))
	}
	return n, nil
}
