package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Set request
		*common.NewSetRequest("default_pg/comm/0", []byte("unique-id")),

		// Get response
		*common.NewGetResponse([]byte("unique-id"), true, nil),

		// Add request with a negative delta
		*common.NewAddRequest("barrier", -3),

		// CompareSet request
		*common.NewCompareSetRequest("lock", []byte("old"), []byte("new")),

		// Check request
		*common.NewCheckRequest([]string{"a", "b/c", "d"}),

		// NumKeys response
		*common.NewNumKeysResponse(42, nil),

		// Error response
		*common.NewAddResponse(0, rendezvous.NewError(rendezvous.RetCInvalidOperation, "value of \"k\" is not an integer")),
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTSuccess; msgType <= common.MsgTNumKeys; msgType++ {
				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType, err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s", msgType, result.MsgType)
				}
			}
		})
	}
}

// TestBinaryEmptySlices checks that the binary format keeps empty but non
// nil byte slices apart from missing ones
func TestBinaryEmptySlices(t *testing.T) {
	serializer := NewBinarySerializer()

	msg := common.Message{MsgType: common.MsgTCompareSet, Key: "k", Value: []byte{}, Keys: []string{}}
	data, err := serializer.Serialize(msg)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	var result common.Message
	if err := serializer.Deserialize(data, &result); err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}
	if result.Value == nil || len(result.Value) != 0 {
		t.Errorf("Value: expected empty non nil slice, got %#v", result.Value)
	}
	if result.Keys == nil || len(result.Keys) != 0 {
		t.Errorf("Keys: expected empty non nil slice, got %#v", result.Keys)
	}
	if result.Desired != nil {
		t.Errorf("Desired: expected nil, got %#v", result.Desired)
	}
}

// TestReuseTarget makes sure a reused message is fully overwritten
func TestReuseTarget(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			full, _ := serializer.Serialize(*common.NewCompareSetRequest("k", []byte("a"), []byte("b")))
			empty, _ := serializer.Serialize(common.Message{MsgType: common.MsgTSuccess})

			var msg common.Message
			if err := serializer.Deserialize(full, &msg); err != nil {
				t.Fatal(err)
			}
			if err := serializer.Deserialize(empty, &msg); err != nil {
				t.Fatal(err)
			}
			if msg.Key != "" || msg.Value != nil || msg.Desired != nil {
				t.Errorf("stale fields after reuse: %+v", msg)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range append(Names(), "JSON") {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}
	if _, err := ByName("protobuf"); err == nil {
		t.Error("expected error for unknown serializer")
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{"Empty data", []byte{}, true},
		{"Too short header", []byte{1, 0}, true},
		{"Valid header only", []byte{1, 0, 0}, false},
		{"Invalid length for key", []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, true},
		{"Invalid length for value", []byte{1, 0, 4, 0, 0, 0, 10}, true},
		{"Too many keys", []byte{1, 0, 2, 0xff, 0xff, 0xff, 0xff}, true},
		{"Truncated num", []byte{1, 0, 16, 0, 0, 0}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
