// Package syncq is the CLI's local SQLite state: writes queued while offline and the cached
// collection. Nothing here is authoritative; clearing it never touches the server.
package syncq

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"packrip/internal/catalog"
	"packrip/internal/game"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Command struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	UserID         string `gorm:"not null;index"`
	Method         string `gorm:"not null"`
	Path           string `gorm:"not null"`
	Body           string
	IdempotencyKey string `gorm:"not null;uniqueIndex"`
	Attempts       int    `gorm:"default:0"`
	CreatedAt      time.Time
}

// BodyMap decodes the stored JSON body.
func (c Command) BodyMap() (map[string]any, error) {
	if strings.TrimSpace(c.Body) == "" {
		return nil, nil
	}
	var out map[string]any
	err := json.Unmarshal([]byte(c.Body), &out)
	return out, err
}

type CachedCard struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	TemplateID   string
	Name         string
	Description  string
	Image        string
	Category     string
	Rarity       string `gorm:"index"`
	ClarityIndex int
	Grade        string
	Locked       bool
	OwnerCount   int
	CreatedAt    time.Time
	CachedAt     time.Time
}

type Store struct {
	db *gorm.DB
}

func Open(dir string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "local.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Command{}, &CachedCard{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Push queues a write. Pushing the same idempotency key twice keeps the first.
func (s *Store) Push(userID, method, path string, body map[string]any, idem string) error {
	if strings.TrimSpace(idem) == "" {
		return errors.New("queued commands need an idempotency key")
	}
	raw := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = string(b)
	}
	cmd := Command{UserID: userID, Method: method, Path: path, Body: raw, IdempotencyKey: idem}
	return s.db.Where(Command{IdempotencyKey: idem}).FirstOrCreate(&cmd).Error
}

func (s *Store) Pending(userID string) ([]Command, error) {
	var out []Command
	err := s.db.Where("user_id = ?", userID).Order("id").Find(&out).Error
	return out, err
}

func (s *Store) Done(id uint) error {
	return s.db.Delete(&Command{}, id).Error
}

func (s *Store) Failed(id uint) error {
	return s.db.Model(&Command{}).Where("id = ?", id).UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

// ReplaceCards swaps the user's cached collection for cards in one transaction.
func (s *Store) ReplaceCards(userID string, cards []game.Card) error {
	now := time.Now().UTC()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&CachedCard{}).Error; err != nil {
			return err
		}
		if len(cards) == 0 {
			return nil
		}
		rows := make([]CachedCard, 0, len(cards))
		for _, c := range cards {
			rows = append(rows, CachedCard{
				ID:           c.ID,
				UserID:       userID,
				TemplateID:   c.TemplateID,
				Name:         c.Name,
				Description:  c.Description,
				Image:        c.Image,
				Category:     c.Category,
				Rarity:       c.Rarity.String(),
				ClarityIndex: c.ClarityIndex,
				Grade:        c.Grade,
				Locked:       c.Locked,
				OwnerCount:   c.OwnerCount,
				CreatedAt:    c.CreatedAt,
				CachedAt:     now,
			})
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

// Cards reads the cache with the same filters the API applies.
func (s *Store) Cards(userID string, rarity catalog.Rarity, grade string, tradeableOnly bool) ([]game.Card, error) {
	q := s.db.Where("user_id = ?", userID)
	if rarity.Valid() {
		q = q.Where("rarity = ?", rarity.String())
	}
	if g := strings.TrimSpace(grade); g != "" {
		q = q.Where("LOWER(grade) LIKE ?", "%"+strings.ToLower(g)+"%")
	}
	if tradeableOnly {
		q = q.Where("locked = ?", false)
	}
	var rows []CachedCard
	if err := q.Order("created_at DESC, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]game.Card, 0, len(rows))
	for _, r := range rows {
		rar, err := catalog.ParseRarity(r.Rarity)
		if err != nil {
			continue
		}
		out = append(out, game.Card{
			ID:           r.ID,
			TemplateID:   r.TemplateID,
			Name:         r.Name,
			Description:  r.Description,
			Image:        r.Image,
			Category:     r.Category,
			Rarity:       rar,
			ClarityIndex: r.ClarityIndex,
			Grade:        r.Grade,
			Locked:       r.Locked,
			OwnerCount:   r.OwnerCount,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out, nil
}

// ClearCards empties the local collection cache. Cards on the server are untouched.
func (s *Store) ClearCards(userID string) (int64, error) {
	res := s.db.Where("user_id = ?", userID).Delete(&CachedCard{})
	return res.RowsAffected, res.Error
}
