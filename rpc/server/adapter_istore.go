package server

import (
	"fmt"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, store rendezvous.IStore) *common.Message {
	// Check for nil store
	if store == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	metrics.GetOrCreateCounter(fmt.Sprintf(`dccl_rpc_requests_total{type=%q}`, req.MsgType)).Inc()

	// Handle different message types. Get never blocks here, waiting clients poll.
	switch req.MsgType {
	case common.MsgTSet:
		err := store.Set(req.Key, req.Value)
		return common.NewSetResponse(err)
	case common.MsgTGet:
		val, ok, err := store.TryGet(req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTAdd:
		val, err := store.Add(req.Key, req.Num)
		return common.NewAddResponse(val, err)
	case common.MsgTCompareSet:
		val, err := store.CompareSet(req.Key, req.Value, req.Desired)
		return common.NewCompareSetResponse(val, err)
	case common.MsgTCheck:
		ok, err := store.Check(req.Keys...)
		return common.NewCheckResponse(ok, err)
	case common.MsgTDelete:
		ok, err := store.Delete(req.Key)
		return common.NewDeleteResponse(ok, err)
	case common.MsgTNumKeys:
		n, err := store.NumKeys()
		return common.NewNumKeysResponse(n, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
