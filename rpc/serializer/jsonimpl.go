package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dCCL/rpc/common"
)

// NewJSONSerializer creates a serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	// omitempty fields missing from b must not keep old values
	*msg = common.Message{}
	return json.Unmarshal(b, msg)
}
