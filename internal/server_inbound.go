package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"taskchat/internal/logging"
	"taskchat/internal/storage"
)

// handleInbound runs one frame through parse, validate, resolve, persist,
// serialize and broadcast. Failures go back to the sender only and never
// close the connection.
func (s *Server) handleInbound(ctx context.Context, client *Client, payload []byte) {
	frame, err := s.processInbound(ctx, client, payload)
	if err != nil {
		s.reportInboundError(ctx, client, err)
		return
	}
	delivered := s.broadcaster.Broadcast(ctx, client.roomKey, frame)
	logger := s.loggerFor(ctx)
	logger.Debug().Int(logging.FieldMembers, delivered).Msg("message broadcast")
}

func (s *Server) processInbound(ctx context.Context, client *Client, payload []byte) ([]byte, error) {
	var req InboundMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &InboundError{Kind: KindParse, Err: errors.New("invalid message format")}
	}
	if req.ChatType == "" {
		req.ChatType = storage.ChatTypeGroup
	}
	// a zero recipient or project means "none"
	req.RecipientID = zeroToNil(req.RecipientID)
	req.ProjectID = zeroToNil(req.ProjectID)
	if err := s.validate.Struct(req); err != nil {
		return nil, &InboundError{Kind: KindValidation, Err: validationError(err)}
	}
	if s.opts.RequirePrivateRecipient && req.ChatType == storage.ChatTypePrivate && req.RecipientID == nil {
		return nil, inboundErrorf(KindValidation, "recipient_id is required for private messages")
	}

	senderID := client.userID
	if req.SenderID != nil {
		senderID = *req.SenderID
	}
	if senderID == 0 {
		return nil, inboundErrorf(KindResolution, "sender_id is required")
	}
	sender, err := s.store.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, &InboundError{Kind: KindResolution, Err: err}
	}
	if sender == nil {
		return nil, inboundErrorf(KindResolution, "sender %d not found", senderID)
	}

	var recipient *storage.User
	if req.RecipientID != nil {
		recipient, err = s.store.GetUserByID(ctx, *req.RecipientID)
		if err != nil {
			return nil, &InboundError{Kind: KindResolution, Err: err}
		}
		if recipient == nil {
			return nil, inboundErrorf(KindResolution, "recipient %d not found", *req.RecipientID)
		}
	}

	msg := storage.NewMessage{
		SenderID: sender.ID,
		Content:  *req.Message,
		ChatType: req.ChatType,
	}
	if recipient != nil {
		msg.RecipientID = recipient.ID
	}
	if req.ProjectID != nil {
		msg.ProjectID = *req.ProjectID
	}
	saved, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, &InboundError{Kind: KindPersistence, Err: err}
	}
	s.metrics.IncPersisted()
	logger := s.loggerFor(ctx)
	logger.Info().Int64(logging.FieldMessageID, saved.ID).Int64(logging.FieldUserID, saved.SenderID).Msg("message saved")

	frame, err := s.encode(OutboundMessage{Type: outboundTypeMessage, Message: newMessageView(saved, *sender, recipient)})
	if err != nil {
		return nil, &InboundError{Kind: KindSerialization, Err: err}
	}
	return frame, nil
}

func (s *Server) reportInboundError(ctx context.Context, client *Client, err error) {
	kind := ErrorKindOf(err)
	s.metrics.IncInboundError(kind)
	logger := s.loggerFor(ctx)
	event := logger.Warn()
	if kind == KindPersistence || kind == KindSerialization {
		event = logger.Error()
	}
	event.Err(err).Str(logging.FieldErrorKind, string(kind)).Msg("inbound message rejected")

	public := err.Error()
	var inErr *InboundError
	if errors.As(err, &inErr) {
		public = inErr.Public()
	}
	frame, encErr := json.Marshal(ErrorPayload{Error: public})
	if encErr != nil {
		return
	}
	if _, pushErr := client.enqueue(frame); pushErr != nil {
		logger.Debug().Err(pushErr).Msg("error reply skipped")
	}
}

// validationError flattens validator output into one readable line.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}

func zeroToNil(id *int64) *int64 {
	if id != nil && *id == 0 {
		return nil
	}
	return id
}
