// Package gormstore is the MySQL record store built on gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const mysqlDuplicateEntry = 1062

var _ core.RecordStore = (*Store)(nil)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	if db == nil {
		panic("gormstore: nil *gorm.DB")
	}
	return &Store{db: db}
}

// Open connects to MySQL and optionally migrates the schema.
func Open(dsn string, autoMigrate bool) (*Store, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gorm: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm: sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	s := New(db)
	if autoMigrate {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&domain.User{}, &domain.Room{}, &domain.Participant{}, &domain.ChatMessage{}); err != nil {
		return fmt.Errorf("gorm: auto-migrate: %w", err)
	}
	log.Info().Str("module", "store.gorm").Msg("schema migrated")
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// --- rooms ---

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("gorm: create room %s: %w", room.ID, err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	err := s.db.WithContext(ctx).First(&room, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: get room %s: %w", id, err)
	}
	return &room, nil
}

func (s *Store) ListActiveRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	var rooms []domain.Room
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list active rooms: %w", err)
	}
	if len(rooms) == 0 {
		return []domain.RoomSummary{}, nil
	}

	ids := make([]domain.RoomID, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	var counts []struct {
		RoomID domain.RoomID
		N      int
	}
	err = s.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Select("room_id, COUNT(*) AS n").
		Where("room_id IN ?", ids).
		Group("room_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: count participants: %w", err)
	}
	byRoom := make(map[domain.RoomID]int, len(counts))
	for _, c := range counts {
		byRoom[c.RoomID] = c.N
	}

	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, domain.RoomSummary{Room: r, ParticipantCount: byRoom[r.ID]})
	}
	return out, nil
}

// updateRoom applies fields plus a version bump and reads the committed row
// back in the same transaction.
func (s *Store) updateRoom(ctx context.Context, id domain.RoomID, op string, fields map[string]any) (*domain.Room, error) {
	var room domain.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields["version"] = gorm.Expr("version + 1")
		res := tx.Model(&domain.Room{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrRoomNotFound
		}
		return tx.First(&room, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: %s for room %s: %w", op, id, err)
	}
	return &room, nil
}

func (s *Store) UpdateController(ctx context.Context, id domain.RoomID, controller domain.UserID) (*domain.Room, error) {
	return s.updateRoom(ctx, id, "update controller", map[string]any{"current_controller_id": controller})
}

func (s *Store) DeactivateRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.updateRoom(ctx, id, "deactivate", map[string]any{"is_active": false})
}

// --- participants ---

// AddParticipant locks the room row so concurrent joins serialize on the
// capacity check.
func (s *Store) AddParticipant(ctx context.Context, p *domain.Participant, capacity int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room domain.Room
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&room, "id = ?", p.RoomID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrRoomNotFound
			}
			return err
		}

		var existing int64
		if err := tx.Model(&domain.Participant{}).
			Where("room_id = ? AND user_id = ?", p.RoomID, p.UserID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return domain.ErrAlreadyMember
		}

		var n int64
		if err := tx.Model(&domain.Participant{}).Where("room_id = ?", p.RoomID).Count(&n).Error; err != nil {
			return err
		}
		if int(n) >= capacity {
			return domain.ErrRoomFull
		}

		if err := tx.Create(p).Error; err != nil {
			if isDuplicateEntry(err) {
				return domain.ErrAlreadyMember
			}
			return err
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrAlreadyMember), errors.Is(err, domain.ErrRoomFull):
		return err
	default:
		return fmt.Errorf("gorm: add participant %s to room %s: %w", p.UserID, p.RoomID, err)
	}
}

func (s *Store) RemoveParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", room, user).
		Delete(&domain.Participant{})
	if res.Error != nil {
		return false, fmt.Errorf("gorm: remove participant %s from room %s: %w", user, room, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.Participant, error) {
	var p domain.Participant
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", room, user).
		Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotMember
		}
		return nil, fmt.Errorf("gorm: get participant %s in room %s: %w", user, room, err)
	}
	return &p, nil
}

func (s *Store) CountParticipants(ctx context.Context, room domain.RoomID) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Participant{}).Where("room_id = ?", room).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count participants in room %s: %w", room, err)
	}
	return int(n), nil
}

func (s *Store) ListParticipants(ctx context.Context, room domain.RoomID) ([]domain.ParticipantView, error) {
	out := []domain.ParticipantView{}
	err := s.db.WithContext(ctx).
		Table("room_participants AS p").
		Select("p.user_id, COALESCE(u.nickname, ?) AS nickname, p.is_connected", domain.UnknownNickname).
		Joins("LEFT JOIN users u ON u.id = p.user_id").
		Where("p.room_id = ?", room).
		Order("p.joined_at ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list participants in room %s: %w", room, err)
	}
	return out, nil
}

func (s *Store) SetConnected(ctx context.Context, room domain.RoomID, user domain.UserID, connected bool) (*domain.Participant, error) {
	err := s.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("room_id = ? AND user_id = ?", room, user).
		Update("is_connected", connected).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: set connected for %s in room %s: %w", user, room, err)
	}
	// MySQL reports zero affected rows for a no-op update, so read back.
	return s.GetParticipant(ctx, room, user)
}

// --- chat ---

func (s *Store) AppendMessage(ctx context.Context, m *domain.ChatMessage) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("gorm: append message to room %s: %w", m.RoomID, err)
	}
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessageView, error) {
	var rows []domain.ChatMessageView
	err := s.db.WithContext(ctx).
		Table("chat_messages AS m").
		Select("m.*, COALESCE(u.nickname, ?) AS nickname", domain.UnknownNickname).
		Joins("LEFT JOIN users u ON u.id = m.user_id").
		Where("m.room_id = ?", room).
		Order("m.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: recent messages in room %s: %w", room, err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	if rows == nil {
		rows = []domain.ChatMessageView{}
	}
	return rows, nil
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isDuplicateEntry(err) {
			return domain.ErrNicknameTaken
		}
		return fmt.Errorf("gorm: create user %q: %w", u.Nickname, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("gorm: get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) FindUserByNickname(ctx context.Context, nickname string) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).Where("nickname = ?", nickname).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("gorm: find user by nickname %q: %w", nickname, err)
	}
	return &u, nil
}
