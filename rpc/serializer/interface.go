package serializer

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dCCL/rpc/common"
)

// IRPCSerializer encodes the rendezvous messages exchanged between RPCStore
// and RPCServer. Both sides of a connection must use the same format.
type IRPCSerializer interface {
	// Serialize encodes msg. The returned slice is owned by the caller.
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg, overwriting all of its fields
	Deserialize(b []byte, msg *common.Message) error
}

var factories = map[string]func() IRPCSerializer{
	"binary": NewBinarySerializer,
	"json":   NewJSONSerializer,
	"gob":    NewGOBSerializer,
}

// Names lists the formats accepted by ByName
func Names() []string {
	return []string{"binary", "json", "gob"}
}

// ByName returns a new serializer for one of Names, ignoring case.
func ByName(name string) (IRPCSerializer, error) {
	f, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("invalid serializer %q, use one of %s", name, strings.Join(Names(), ", "))
	}
	return f(), nil
}
