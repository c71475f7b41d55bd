package transport

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/provider"
	"github.com/status-im/wallet-router/rpc"
)

// Substream names with a fixed meaning across the extension surfaces.
const (
	StreamProvider   = "wallet-provider"
	StreamMultichain = "wallet-multichain"
)

// Pipe pumps requests from the substream through the engine and responses
// plus engine notifications back out. It returns when the stream, the
// engine or the context ends; whichever side ends first tears the other
// down, and doing so twice is harmless.
func Pipe(ctx context.Context, engine *provider.Engine, stream *Substream) {
	logger := logutils.ZapLogger().Named("transport").With(zap.String("stream", stream.Name()))

	notifications := make(chan *rpc.Notification, 16)
	sub := engine.SubscribeNotifications(notifications)
	defer sub.Unsubscribe()

	for {
		select {
		case payload := <-stream.Read():
			var req rpc.Request
			if err := json.Unmarshal(payload, &req); err != nil {
				logger.Debug("undecodable request payload", zap.Error(err))
				writeOut(logger, stream, &rpc.Response{
					JSONRPC: rpc.Version,
					Error:   &rpc.Error{Code: rpc.CodeParseError, Message: "invalid JSON payload"},
				})
				continue
			}
			// Each request runs on its own goroutine: a request parked
			// behind a pending network switch must not block later
			// requests or notification writes on the same connection.
			// The mux serializes the actual writes.
			go func() {
				if resp := engine.Handle(ctx, &req); resp != nil {
					writeOut(logger, stream, resp)
				}
			}()
		case n := <-notifications:
			writeOut(logger, stream, n)
		case <-stream.Closed():
			engine.Destroy()
			return
		case <-engine.Dead():
			stream.Close()
			return
		case <-ctx.Done():
			engine.Destroy()
			stream.Close()
			return
		}
	}
}

func writeOut(logger *zap.Logger, stream *Substream, payload interface{}) {
	if err := stream.Write(payload); err != nil {
		logger.Debug("write failed", zap.Error(err))
	}
}
