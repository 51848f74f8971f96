package relay

import (
	"context"

	"device-control-relay/internal/command"
	"device-control-relay/internal/domain"
	"device-control-relay/internal/service"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"
)

func (r *Relay) handleAdminMessage(ctx context.Context, s *session.Session, msg *websocket.Message) {
	actor := *s.Identity.Admin

	var (
		outcome *service.Outcome
		err     error
	)

	switch msg.Type {
	case websocket.TypeRequestRemoteControl:
		var req websocket.RequestRemoteControlPayload
		if err = decode(msg, &req); err == nil {
			level := req.AdminLevel
			if level == "" {
				level = string(actor.Role)
			}
			outcome, err = r.forward(ctx, actor, websocket.TypeRemoteControlRequest, req.DeviceID, websocket.RemoteControlRequestPayload{
				AdminID:     actor.UserID,
				AdminLevel:  level,
				Permissions: req.Permissions,
				Timestamp:   r.now(),
			})
		}

	case websocket.TypeRequestScreenshot:
		var req websocket.DeviceTarget
		if err = decode(msg, &req); err == nil {
			outcome, err = r.requestScreenshot(ctx, s, actor, req.DeviceID)
		}

	case websocket.TypeStopMonitoring:
		var req websocket.DeviceTarget
		if err = decode(msg, &req); err == nil {
			r.registry.LeaveGroup(s.ID, session.MonitorGroup(req.DeviceID))
		}

	case websocket.TypeMouseMove:
		var req websocket.MouseMoveRequest
		if err = decode(msg, &req); err == nil {
			outcome, err = r.forward(ctx, actor, msg.Type, req.DeviceID, websocket.MouseMovePayload{X: req.X, Y: req.Y})
		}

	case websocket.TypeMouseClick:
		var req websocket.MouseClickRequest
		if err = decode(msg, &req); err == nil {
			button := req.Button
			if button == "" {
				button = "left"
			}
			outcome, err = r.forward(ctx, actor, msg.Type, req.DeviceID, websocket.MouseClickPayload{Button: button})
		}

	case websocket.TypeKeyPress:
		var req websocket.KeyPressRequest
		if err = decode(msg, &req); err == nil {
			outcome, err = r.forward(ctx, actor, msg.Type, req.DeviceID, websocket.KeyPressPayload{Key: req.Key, Modifiers: req.Modifiers})
		}

	case websocket.TypeBroadcastMessage:
		var req websocket.BroadcastRequest
		if err = decode(msg, &req); err == nil {
			outcome, err = r.devices.Broadcast(ctx, actor, req.Message, req.TargetDevices)
		}

	case websocket.TypeLockDevice:
		var req websocket.DeviceTarget
		if err = decode(msg, &req); err == nil {
			outcome, err = r.devices.Lock(ctx, actor, req.DeviceID)
		}

	case websocket.TypeUnlockDevice:
		var req websocket.DeviceTarget
		if err = decode(msg, &req); err == nil {
			outcome, err = r.devices.Unlock(ctx, actor, req.DeviceID)
		}

	case websocket.TypeCreatePermissionRequest:
		var req domain.CreatePermissionRequest
		if err = decode(msg, &req); err == nil {
			outcome, err = r.permissions.Create(ctx, actor, req)
		}

	case websocket.TypeResolvePermissionRequest:
		var req websocket.ResolvePermissionPayload
		if err = decode(msg, &req); err == nil {
			outcome, err = r.permissions.Resolve(ctx, actor, req.RequestID, domain.ResolvePermissionRequest{
				Approved: req.Approved,
				Reason:   req.Reason,
			})
		}

	case websocket.TypePong:
		return

	default:
		r.logger.Warn("unknown admin event", "user_id", actor.UserID, "type", msg.Type)
		err = domain.ErrInvalidPayload
	}

	r.reply(s, msg.Type, outcome, err)
}

func (r *Relay) forward(ctx context.Context, actor domain.AdminIdentity, msgType websocket.MessageType, deviceID string, payload interface{}) (*service.Outcome, error) {
	result, err := r.devices.Forward(ctx, actor, msgType, deviceID, payload)
	if err != nil {
		return nil, err
	}
	return &service.Outcome{Delivery: &result}, nil
}

// requestScreenshot subscribes the session to the device's screenshots before
// asking for one, so the answer cannot outrun the subscription.
func (r *Relay) requestScreenshot(ctx context.Context, s *session.Session, actor domain.AdminIdentity, deviceID string) (*service.Outcome, error) {
	if err := r.devices.Authorize(ctx, actor, deviceID); err != nil {
		return nil, err
	}
	if err := r.registry.JoinGroup(s.ID, session.MonitorGroup(deviceID)); err != nil {
		return nil, err
	}
	return r.devices.RequestScreenshot(ctx, actor, deviceID)
}

// reply answers an admin event on the invoking socket. An operation whose
// only effect is a delivery fails when the delivery did.
func (r *Relay) reply(s *session.Session, event websocket.MessageType, outcome *service.Outcome, err error) {
	result := websocket.CommandResultPayload{Event: event, OK: err == nil}

	if err != nil {
		result.Code = domain.ErrorCode(err)
		result.Error = err.Error()
		logArgs := []interface{}{"session_id", s.ID, "identity", s.Identity.String(), "event", event, "error", err}
		if isRejection(err) {
			r.logger.Info("admin event rejected", logArgs...)
		} else {
			r.logger.Error("admin event failed", logArgs...)
		}
	}

	if outcome != nil {
		result.Degraded = outcome.Degraded
		if outcome.Request != nil {
			result.Data = outcome.Request
		}
		if outcome.Delivery != nil {
			result.Results = append(result.Results, outcome.Delivery.Wire())
			if outcome.Request == nil && !outcome.Delivery.Delivered {
				result.OK = false
				result.Code = domain.ErrorCode(outcome.Delivery.Err)
			}
		}
		result.Results = append(result.Results, wireResults(outcome.Results)...)
	}

	r.router.Reply(s, websocket.TypeCommandResult, result)
}

func wireResults(results []command.Result) []websocket.DeliveryResult {
	wire := make([]websocket.DeliveryResult, 0, len(results))
	for _, res := range results {
		wire = append(wire, res.Wire())
	}
	return wire
}
