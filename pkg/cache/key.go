package cache

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/polisai/authchain/pkg/domain"
)

// Key identifies a cached context.
type Key struct {
	AuthContextID string
	Identity      uint64
}

// KeyFor derives the cache key of authContextID for a subject and caller
// properties. Principals (name and group flag) and property keys are hashed in
// sorted order so equal inputs map to equal keys regardless of insertion order.
func KeyFor(authContextID string, subject *domain.Subject, props map[string]any) Key {
	d := xxhash.New()
	principals := subject.Principals()
	sort.Slice(principals, func(i, j int) bool {
		if principals[i].Name != principals[j].Name {
			return principals[i].Name < principals[j].Name
		}
		return !principals[i].Group && principals[j].Group
	})
	for _, p := range principals {
		if p.Group {
			_, _ = d.WriteString("g:")
		} else {
			_, _ = d.WriteString("p:")
		}
		_, _ = d.WriteString(p.Name)
		_, _ = d.Write([]byte{0})
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString("k:")
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
		_, _ = fmt.Fprintf(d, "%v", props[k])
		_, _ = d.Write([]byte{0})
	}

	return Key{AuthContextID: authContextID, Identity: d.Sum64()}
}
