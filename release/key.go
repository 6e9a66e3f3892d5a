package release

import (
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
)

// KeyGenerator mints externally visible release version tokens. A key is
// opaque to clients; they only compare it for equality to decide whether
// their cached configuration is current. The node discriminator keeps keys
// from colliding when several admin instances publish within the same
// timestamp second.
type KeyGenerator struct {
	node string
	seq  atomic.Uint64
}

func NewKeyGenerator() *KeyGenerator {
	node, err := machineid.ProtectedID("burrow")
	if err != nil {
		host, herr := os.Hostname()
		if herr != nil {
			host = "localhost"
		}
		node = host
	}
	return &KeyGenerator{node: node}
}

// Generate returns a new release key for the namespace identity.
func (g *KeyGenerator) Generate(appID, clusterName, namespaceName string) string {
	now := time.Now().UTC()
	h := xxhash.New()
	h.WriteString(g.node)
	h.WriteString("|")
	h.WriteString(appID)
	h.WriteString("|")
	h.WriteString(clusterName)
	h.WriteString("|")
	h.WriteString(namespaceName)
	h.WriteString("|")
	h.WriteString(strconv.FormatInt(now.UnixNano(), 10))
	h.WriteString("|")
	h.WriteString(strconv.FormatUint(g.seq.Add(1), 10))
	return fmt.Sprintf("%s-%016x", now.Format("20060102150405"), h.Sum64())
}
