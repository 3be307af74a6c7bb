package moqt

import (
	"slices"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
)

// Version is a MOQT protocol version number.
type Version = message.Version

const (
	Draft11 Version = message.Draft11
	Draft12 Version = message.Draft12
)

// DefaultVersions is offered when Config.Versions is empty.
var DefaultVersions = []Version{Draft11}

// selectVersion returns the highest version present in both lists.
func selectVersion(acceptable, offered []Version) (Version, bool) {
	var (
		best  Version
		found bool
	)
	for _, v := range acceptable {
		if slices.Contains(offered, v) && (!found || v > best) {
			best, found = v, true
		}
	}
	return best, found
}
