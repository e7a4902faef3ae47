package rebuild

import (
	"net/url"
	"strings"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/pkg/nexuserr"
)

// localScheme is the blockdevice scheme treated as "same node" for source
// preference: a malloc:// device lives in this process's memory, the
// closest analogue to a local NVMe namespace in this simplified core.
const localScheme = "malloc"

// healthy reports whether c is eligible as a rebuild source: open and
// last-known healthy.
func healthy(c *child.Child) bool {
	return c.State() == child.StateOpen && c.IsHealthy()
}

func isLocal(c *child.Child) bool {
	u, err := url.Parse(c.URI())
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, localScheme)
}

// SelectSource picks a rebuild source for destination child dest out of
// children, preferring (1) a local healthy child that is not dest, then
// (2) the first healthy child that is not dest. Returns NoRebuildSource if
// neither exists.
func SelectSource(children []*child.Child, dest *child.Child) (*child.Child, error) {
	var firstHealthy *child.Child

	for _, c := range children {
		if c == dest || c.URI() == dest.URI() {
			continue
		}
		if !healthy(c) {
			continue
		}
		if isLocal(c) {
			return c, nil
		}
		if firstHealthy == nil {
			firstHealthy = c
		}
	}

	if firstHealthy != nil {
		return firstHealthy, nil
	}
	return nil, nexuserr.New("rebuild.SelectSource", nexuserr.NoRebuildSource,
		"no healthy child available to rebuild from")
}
