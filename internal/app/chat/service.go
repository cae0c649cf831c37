// Package chat is the per-room message log with live delivery.
package chat

import (
	"context"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/dkeye/sharedview/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Store interface {
	core.MessageStore
	core.UserStore
	core.ParticipantStore
}

type Service struct {
	store    Store
	feed     core.ChangeFeed
	pageSize int
}

func NewService(store Store, feed core.ChangeFeed, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = domain.ChatPageSize
	}
	return &Service{store: store, feed: feed, pageSize: pageSize}
}

// Send appends a message from a current member.
func (s *Service) Send(ctx context.Context, room domain.RoomID, user domain.UserID, text string) (*domain.ChatMessage, error) {
	if _, err := s.store.GetParticipant(ctx, room, user); err != nil {
		return nil, err
	}
	msg, err := domain.NewChatMessage(room, user, text)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.ChatMessages.Inc()
	return msg, nil
}

// Recent returns the newest page, oldest first.
func (s *Service) Recent(ctx context.Context, room domain.RoomID) ([]domain.ChatMessageView, error) {
	return s.store.RecentMessages(ctx, room, s.pageSize)
}

// Subscribe delivers new messages of room with the sender nickname resolved.
func (s *Service) Subscribe(ctx context.Context, room domain.RoomID, h func(domain.ChatMessageView)) (core.Subscription, error) {
	return s.feed.SubscribeChanges(ctx, room, core.EntityChatMessages, core.EventInsert, func(ch core.Change) {
		var msg domain.ChatMessage
		if err := ch.Decode(&msg); err != nil {
			log.Error().Err(err).Str("module", "app.chat").Str("room", string(room)).Msg("decode chat change")
			return
		}
		view := domain.ChatMessageView{ChatMessage: msg, Nickname: domain.UnknownNickname}
		if u, err := s.store.GetUser(ctx, msg.UserID); err == nil {
			view.Nickname = u.Nickname
		}
		h(view)
	})
}
