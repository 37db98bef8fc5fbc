package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"plenum/core"
)

var (
	// ErrMatterNotFound reports a matter id with no record.
	ErrMatterNotFound = errors.New("registry: matter not found")
	// ErrChamberNotFound reports a chamber id with no record.
	ErrChamberNotFound = errors.New("registry: chamber not found")
)

// Store is the matter/roster collaborator backed by sqlite. It owns the
// chamber, councilor, and matter records; the voting core reads them and
// writes exactly one field, the matter outcome, on round closure.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the registry database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	if err := db.AutoMigrate(&Chamber{}, &Councilor{}, &Matter{}); err != nil {
		return nil, fmt.Errorf("migrate registry schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing gorm handle, migrating the schema. Used by
// tests and by callers that manage the connection themselves.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Chamber{}, &Councilor{}, &Matter{}); err != nil {
		return nil, fmt.Errorf("migrate registry schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Chambers lists every registered chamber.
func (s *Store) Chambers() ([]Chamber, error) {
	var chambers []Chamber
	if err := s.db.Order("id").Find(&chambers).Error; err != nil {
		return nil, err
	}
	return chambers, nil
}

// Chamber fetches a single chamber record.
func (s *Store) Chamber(id string) (*Chamber, error) {
	var chamber Chamber
	err := s.db.First(&chamber, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChamberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chamber, nil
}

// VoterRoster returns the councilor ids eligible to vote in the chamber.
// The presiding officer is excluded.
func (s *Store) VoterRoster(chamberID string) ([]string, error) {
	var ids []string
	err := s.db.Model(&Councilor{}).
		Where("chamber_id = ? AND presiding = ?", chamberID, false).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsEligibleVoter reports whether the councilor is a registered
// non-presiding member of the chamber.
func (s *Store) IsEligibleVoter(chamberID, councilorID string) (bool, error) {
	var count int64
	err := s.db.Model(&Councilor{}).
		Where("chamber_id = ? AND id = ? AND presiding = ?", chamberID, councilorID, false).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Matters lists the chamber's matters, pending first.
func (s *Store) Matters(chamberID string) ([]Matter, error) {
	var matters []Matter
	err := s.db.Where("chamber_id = ?", chamberID).
		Order("voted, id").
		Find(&matters).Error
	if err != nil {
		return nil, err
	}
	return matters, nil
}

// IsMatterAlreadyVoted reports whether the matter already carries a final
// outcome. The second return distinguishes an unknown matter from a known
// unvoted one so an OpenRound with a typo is rejected rather than silently
// accepted.
func (s *Store) IsMatterAlreadyVoted(matterID string) (bool, bool, error) {
	var matter Matter
	err := s.db.First(&matter, "id = ?", matterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return matter.Voted, true, nil
}

// MarkMatterVoted records the final outcome against the matter. Called by
// the hub exactly once per normal round close.
func (s *Store) MarkMatterVoted(matterID string, outcome core.Outcome) error {
	now := time.Now().UTC()
	result := s.db.Model(&Matter{}).
		Where("id = ?", matterID).
		Updates(map[string]interface{}{
			"voted":    true,
			"outcome":  string(outcome),
			"voted_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMatterNotFound
	}
	return nil
}

// CreateChamber registers a chamber if it does not exist yet.
func (s *Store) CreateChamber(chamber Chamber) error {
	chamber.ID = strings.TrimSpace(chamber.ID)
	if chamber.ID == "" {
		return fmt.Errorf("registry: chamber id required")
	}
	return s.db.FirstOrCreate(&Chamber{}, chamber).Error
}
