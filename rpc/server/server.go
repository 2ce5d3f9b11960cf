package server

import (
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/lib/rendezvous/memstore"
	"github.com/ValentinKolb/dCCL/rpc/common"
	"github.com/ValentinKolb/dCCL/rpc/serializer"
	"github.com/ValentinKolb/dCCL/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a store together with the adapter that handles its requests
type serverShard struct {
	Store   rendezvous.IStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new rendezvous server
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer serves one in memory rendezvous store per configured shard
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
}

func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	shard, ok := s.shards.Load(shardId)
	if !ok {
		metrics.GetOrCreateCounter(`dccl_rpc_errors_total{reason="unknown_shard"}`).Inc()
		respMsg = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		metrics.GetOrCreateCounter(`dccl_rpc_errors_total{reason="deserialize"}`).Inc()
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = shard.Adapter.Handle(&msg, shard.Store)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", respMsg.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

func (s *RPCServer) init() error {
	if len(s.config.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}

	for _, shardConfig := range s.config.Shards {
		if _, loaded := s.shards.LoadOrStore(shardConfig.ShardID, serverShard{
			Store:   memstore.New(),
			Adapter: NewIStoreServerAdapter(),
		}); loaded {
			return fmt.Errorf("shard %d configured twice", shardConfig.ShardID)
		}
		Logger.Infof("created rendezvous store for shard %d", shardConfig.ShardID)
	}

	metrics.GetOrCreateGauge("dccl_rpc_shards", func() float64 {
		return float64(s.shards.Size())
	})

	Logger.Infof(s.config.String())

	s.transport.RegisterHandler(s.handle)
	return nil
}

// Serve creates the shards and blocks serving requests until Close is called
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport, Serve returns afterwards
func (s *RPCServer) Close() error {
	return s.transport.Close()
}

// Addr returns the address the transport listens on, empty before Serve
func (s *RPCServer) Addr() string {
	return s.transport.Addr()
}
