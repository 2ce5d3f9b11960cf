package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey     uint16 = 1 << 0
	hasKeys    uint16 = 1 << 1
	hasValue   uint16 = 1 << 2
	hasDesired uint16 = 1 << 3
	hasNum     uint16 = 1 << 4
	hasOk      uint16 = 1 << 5
	hasErr     uint16 = 1 << 6
	hasCode    uint16 = 1 << 7
)

// headerSize is 1 byte MsgType + 2 bytes flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16
	pos := headerSize

	if msg.Key != "" {
		flags |= hasKey
		pos = putBytes(result, pos, []byte(msg.Key))
	}

	if msg.Keys != nil {
		flags |= hasKeys
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Keys)))
		pos += 4
		for _, k := range msg.Keys {
			pos = putBytes(result, pos, []byte(k))
		}
	}

	// nil and empty slices are distinguished, an empty expected value of
	// CompareSet means "key must not exist"
	if msg.Value != nil {
		flags |= hasValue
		pos = putBytes(result, pos, msg.Value)
	}

	if msg.Desired != nil {
		flags |= hasDesired
		pos = putBytes(result, pos, msg.Desired)
	}

	if msg.Num != 0 {
		flags |= hasNum
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.Num))
		pos += 8
	}

	if msg.Ok {
		flags |= hasOk
		result[pos] = 1
		pos += 1
	}

	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}

	if msg.Code != rendezvous.RetCSuccess {
		flags |= hasCode
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.Code))
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	pos := headerSize

	var err error
	var raw []byte

	if flags&hasKey != 0 {
		if raw, pos, err = readBytes(data, pos, "key"); err != nil {
			return err
		}
		msg.Key = string(raw)
	}

	if flags&hasKeys != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for key count")
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		// every key takes at least its 4 byte length
		if n > (len(data)-pos)/4 {
			return fmt.Errorf("data too short for %d keys", n)
		}
		msg.Keys = make([]string, n)
		for i := range msg.Keys {
			if raw, pos, err = readBytes(data, pos, "keys"); err != nil {
				return err
			}
			msg.Keys[i] = string(raw)
		}
	}

	if flags&hasValue != 0 {
		if msg.Value, pos, err = readBytes(data, pos, "value"); err != nil {
			return err
		}
	}

	if flags&hasDesired != 0 {
		if msg.Desired, pos, err = readBytes(data, pos, "desired value"); err != nil {
			return err
		}
	}

	if flags&hasNum != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for Num")
		}
		msg.Num = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	}

	if flags&hasOk != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for Ok flag")
		}
		msg.Ok = data[pos] != 0
		pos += 1
	}

	if flags&hasErr != 0 {
		if raw, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(raw)
	}

	if flags&hasCode != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for Code")
		}
		msg.Code = rendezvous.RetCode(binary.BigEndian.Uint64(data[pos : pos+8]))
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// putBytes writes a length prefixed byte slice and returns the new position
func putBytes(dst []byte, pos int, src []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(src)))
	pos += 4
	copy(dst[pos:pos+len(src)], src)
	return pos + len(src)
}

// readBytes reads a length prefixed byte slice. The result is a copy and
// never nil.
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	out := make([]byte, n)
	copy(out, data[pos:pos+n])
	return out, pos + n, nil
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Keys != nil {
		size += 4
		for _, k := range msg.Keys {
			size += 4 + len(k)
		}
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Desired != nil {
		size += 4 + len(msg.Desired)
	}
	if msg.Num != 0 {
		size += 8
	}
	if msg.Ok {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Code != rendezvous.RetCSuccess {
		size += 8
	}
	return size
}
