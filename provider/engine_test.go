package provider

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/status-im/wallet-router/rpc"
)

func testRequest(method string) *rpc.Request {
	return &rpc.Request{JSONRPC: rpc.Version, ID: json.RawMessage("1"), Method: method}
}

func passthroughStage(name string) Stage {
	return Stage{
		Name: name,
		Middleware: func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
			return next(ctx, req)
		},
	}
}

func terminalStage(name string, result interface{}) Stage {
	return Stage{
		Name: name,
		Middleware: func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
			return rpc.NewResultResponse(req.ID, result), nil
		},
	}
}

func TestEngineStageOrderIsFixed(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		passthroughStage("first"),
		passthroughStage("second"),
		terminalStage("third", "ok"),
	})
	defer engine.Destroy()

	require.Equal(t, []string{"first", "second", "third"}, engine.StageNames())
}

func TestEngineReturnsExactlyOneResponse(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		terminalStage("terminal", "ok"),
	})
	defer engine.Destroy()

	resp := engine.Handle(context.Background(), testRequest("eth_blockNumber"))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"ok"`, string(resp.Result))
}

func TestEngineErrorBecomesErrorResponse(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		{
			Name: "failing",
			Middleware: func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
				return nil, rpc.ErrUnauthorized(req.Origin)
			},
		},
	})
	defer engine.Destroy()

	resp := engine.Handle(context.Background(), testRequest("eth_accounts"))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeUnauthorized, resp.Error.Code)
}

func TestEngineNilResponseFromMiddlewareIsInternalError(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		{
			Name: "broken",
			Middleware: func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
				return nil, nil
			},
		},
	})
	defer engine.Destroy()

	resp := engine.Handle(context.Background(), testRequest("eth_blockNumber"))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeInternalError, resp.Error.Code)
}

func TestEngineNotificationRequestGetsNoResponse(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		terminalStage("terminal", "ok"),
	})
	defer engine.Destroy()

	req := &rpc.Request{JSONRPC: rpc.Version, Method: "eth_blockNumber"}
	require.Nil(t, engine.Handle(context.Background(), req))
}

func TestEngineExhaustedPipelineIsMethodNotFound(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		passthroughStage("only"),
	})
	defer engine.Destroy()

	resp := engine.Handle(context.Background(), testRequest("eth_unknown"))
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestEngineNotifyDeliversToSubscribers(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, nil)
	defer engine.Destroy()

	ch := make(chan *rpc.Notification, 1)
	sub := engine.SubscribeNotifications(ch)
	defer sub.Unsubscribe()

	require.NoError(t, engine.Notify(rpc.NewNotification("chainChanged", "0x1")))

	select {
	case n := <-ch:
		require.Equal(t, "chainChanged", n.Method)
		require.Equal(t, "0x1", n.Params)
	case <-time.After(time.Second):
		t.Fatal("notification was not delivered")
	}
}

func TestEngineNotifyRejectsForeignPayloads(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, nil)
	defer engine.Destroy()

	require.ErrorIs(t, engine.Notify("not a notification"), ErrInvalidNotification)
}

func TestEngineDestroyIsIdempotent(t *testing.T) {
	cleanups := 0
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		terminalStage("terminal", "ok"),
	})
	engine.onDestroy(func() { cleanups++ })

	engine.Destroy()
	engine.Destroy()
	require.Equal(t, 1, cleanups)

	select {
	case <-engine.Dead():
	default:
		t.Fatal("dead channel is not closed after destroy")
	}
}

func TestEngineAfterDestroyIsDisconnected(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		terminalStage("terminal", "ok"),
	})
	engine.Destroy()

	resp := engine.Handle(context.Background(), testRequest("eth_blockNumber"))
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeDisconnected, resp.Error.Code)

	require.ErrorIs(t, engine.Notify(rpc.NewNotification("chainChanged", "0x1")), ErrEngineDestroyed)
}

func TestSubscribeNotificationsOnDestroyedEngine(t *testing.T) {
	engine := newEngine("https://dapp.example", SubjectWebsite, []Stage{
		terminalStage("terminal", "ok"),
	})
	engine.Destroy()

	ch := make(chan *rpc.Notification, 1)
	sub := engine.SubscribeNotifications(ch)
	require.NotNil(t, sub)
	sub.Unsubscribe()
}
