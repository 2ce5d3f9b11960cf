package client

import (
	"context"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/rpc/common"
	"github.com/ValentinKolb/dCCL/rpc/serializer"
	"github.com/ValentinKolb/dCCL/rpc/transport"
)

// NewRPCStore connects the transport and returns a store that forwards every
// call to shard shardId of a rendezvous server.
//
// Usage:
//
//	store, err := client.NewRPCStore(0, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//		return err
//	}
//	defer store.Close()
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCStore, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	Logger.Debugf("connected rpc store for shard %d", shardId)

	return &RPCStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// RPCStore implements rendezvous.IStore on top of a rendezvous server.
// Get and Wait poll the server, the server itself never blocks.
type RPCStore struct {
	rpcClientAdapter
}

var _ rendezvous.IStore = (*RPCStore)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see rendezvous.IStore)
// --------------------------------------------------------------------------

func (s *RPCStore) Set(key string, value []byte) error {
	_, err := s.invokeRPCRequest(common.NewSetRequest(key, value))
	return err
}

func (s *RPCStore) TryGet(key string) ([]byte, bool, error) {
	resp, err := s.invokeRPCRequest(common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (s *RPCStore) Get(ctx context.Context, key string) (value []byte, err error) {
	err = poll(ctx, func() (bool, error) {
		v, ok, err := s.TryGet(key)
		value = v
		return ok, err
	}, key)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *RPCStore) Add(key string, delta int64) (int64, error) {
	resp, err := s.invokeRPCRequest(common.NewAddRequest(key, delta))
	if err != nil {
		return 0, err
	}
	return resp.Num, nil
}

func (s *RPCStore) CompareSet(key string, expected, desired []byte) ([]byte, error) {
	resp, err := s.invokeRPCRequest(common.NewCompareSetRequest(key, expected, desired))
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (s *RPCStore) Check(keys ...string) (bool, error) {
	resp, err := s.invokeRPCRequest(common.NewCheckRequest(keys))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *RPCStore) Wait(ctx context.Context, keys ...string) error {
	return poll(ctx, func() (bool, error) {
		return s.Check(keys...)
	}, keys...)
}

func (s *RPCStore) Delete(key string) (bool, error) {
	resp, err := s.invokeRPCRequest(common.NewDeleteRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *RPCStore) NumKeys() (int64, error) {
	resp, err := s.invokeRPCRequest(common.NewNumKeysRequest())
	if err != nil {
		return 0, err
	}
	return resp.Num, nil
}

// Close closes the underlying transport
func (s *RPCStore) Close() error {
	return s.transport.Close()
}
