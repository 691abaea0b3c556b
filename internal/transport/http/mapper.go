package http

import (
	"encoding/json"

	"github.com/nestmate/nestmate-server/internal/core"
	"github.com/nestmate/nestmate-server/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, nil, err
		}
		if join.OtherUserID <= 0 || join.ListingID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "other_user_id and listing_id are required"}, nil
		}
		return &core.Command{
			Kind:        core.CommandJoinRoom,
			OtherUserID: join.OtherUserID,
			ListingID:   join.ListingID,
		}, nil, nil
	case proto.InboundTypeLeave:
		var leave proto.LeaveData
		if err := json.Unmarshal(inbound.Data, &leave); err != nil {
			return nil, nil, err
		}
		if leave.OtherUserID <= 0 || leave.ListingID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "other_user_id and listing_id are required"}, nil
		}
		return &core.Command{
			Kind:        core.CommandLeaveRoom,
			OtherUserID: leave.OtherUserID,
			ListingID:   leave.ListingID,
		}, nil, nil
	case proto.InboundTypeSend:
		var send proto.SendData
		if err := json.Unmarshal(inbound.Data, &send); err != nil {
			return nil, nil, err
		}
		if send.ReceiverID <= 0 || send.ListingID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "receiver_id and listing_id are required"}, nil
		}
		return &core.Command{
			Kind:       core.CommandSendMessage,
			ReceiverID: send.ReceiverID,
			ListingID:  send.ListingID,
			Content:    send.Content,
		}, nil, nil
	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventNewMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNewMessage,
			Data:  proto.FromCoreMessage(event.Message),
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
