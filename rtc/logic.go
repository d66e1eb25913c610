package rtc

import (
	"context"

	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
)

// Logic is the action table a component author implements. OnInitialize and
// OnFinalize run once per component; every other callback runs on the
// goroutine of the execution context known to the component as id.
//
// A component taking part in two contexts can have callbacks running on both
// at the same time; Logic must guard its own state accordingly.
type Logic interface {
	OnInitialize(ctx context.Context) lifecycle.ReturnCode
	OnFinalize(ctx context.Context) lifecycle.ReturnCode

	OnStartup(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnShutdown(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnActivated(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnDeactivated(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnAborting(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnError(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnReset(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnExecute(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnStateUpdate(ctx context.Context, id ec.ID) lifecycle.ReturnCode
	OnRateChanged(ctx context.Context, id ec.ID) lifecycle.ReturnCode
}

// NopLogic returns OK from every callback. Embed it and override what you need.
type NopLogic struct{}

func (NopLogic) OnInitialize(context.Context) lifecycle.ReturnCode         { return lifecycle.OK }
func (NopLogic) OnFinalize(context.Context) lifecycle.ReturnCode           { return lifecycle.OK }
func (NopLogic) OnStartup(context.Context, ec.ID) lifecycle.ReturnCode     { return lifecycle.OK }
func (NopLogic) OnShutdown(context.Context, ec.ID) lifecycle.ReturnCode    { return lifecycle.OK }
func (NopLogic) OnActivated(context.Context, ec.ID) lifecycle.ReturnCode   { return lifecycle.OK }
func (NopLogic) OnDeactivated(context.Context, ec.ID) lifecycle.ReturnCode { return lifecycle.OK }
func (NopLogic) OnAborting(context.Context, ec.ID) lifecycle.ReturnCode    { return lifecycle.OK }
func (NopLogic) OnError(context.Context, ec.ID) lifecycle.ReturnCode       { return lifecycle.OK }
func (NopLogic) OnReset(context.Context, ec.ID) lifecycle.ReturnCode       { return lifecycle.OK }
func (NopLogic) OnExecute(context.Context, ec.ID) lifecycle.ReturnCode     { return lifecycle.OK }
func (NopLogic) OnStateUpdate(context.Context, ec.ID) lifecycle.ReturnCode { return lifecycle.OK }
func (NopLogic) OnRateChanged(context.Context, ec.ID) lifecycle.ReturnCode { return lifecycle.OK }

// dispatch routes a per-context callback to l.
func dispatch(ctx context.Context, l Logic, id ec.ID, cb lifecycle.Callback) lifecycle.ReturnCode {
	switch cb {
	case lifecycle.OnStartup:
		return l.OnStartup(ctx, id)
	case lifecycle.OnShutdown:
		return l.OnShutdown(ctx, id)
	case lifecycle.OnActivated:
		return l.OnActivated(ctx, id)
	case lifecycle.OnDeactivated:
		return l.OnDeactivated(ctx, id)
	case lifecycle.OnAborting:
		return l.OnAborting(ctx, id)
	case lifecycle.OnError:
		return l.OnError(ctx, id)
	case lifecycle.OnReset:
		return l.OnReset(ctx, id)
	case lifecycle.OnExecute:
		return l.OnExecute(ctx, id)
	case lifecycle.OnStateUpdate:
		return l.OnStateUpdate(ctx, id)
	case lifecycle.OnRateChanged:
		return l.OnRateChanged(ctx, id)
	default:
		return lifecycle.Error
	}
}
