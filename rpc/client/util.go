package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/rpc/common"
	"github.com/ValentinKolb/dCCL/rpc/serializer"
	"github.com/ValentinKolb/dCCL/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var (
	Logger = logger.GetLogger("rpc")
)

const (
	minPollInterval = time.Millisecond
	maxPollInterval = 100 * time.Millisecond
)

// rpcClientAdapter stores everything needed to send requests for one shard
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest sends req to the shard and returns the decoded response.
// Store errors reported by the server are returned as *rendezvous.Error,
// everything else is wrapped with the failing step.
func (a *rpcClientAdapter) invokeRPCRequest(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, errors.Wrapf(err, "serialize %s request", req.MsgType)
	}

	respBytes, err := a.transport.Send(a.shardId, reqBytes)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s request to shard %d", req.MsgType, a.shardId)
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, errors.Wrapf(err, "deserialize %s response", req.MsgType)
	}

	if err := resp.Error(); err != nil {
		return nil, err
	}

	if resp.MsgType != req.MsgType {
		return nil, errors.Errorf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}
	return resp, nil
}

// poll calls try with growing pauses until it reports done or ctx ends
func poll(ctx context.Context, try func() (bool, error), keys ...string) error {
	interval := minPollInterval
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		done, err := try()
		if err != nil || done {
			return err
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return rendezvous.TimeoutError(ctx, keys...)
		case <-timer.C:
		}
		interval = min(interval*2, maxPollInterval)
	}
}
