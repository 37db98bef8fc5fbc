package registry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedDocument is the YAML provisioning format consumed at startup. It
// describes chambers with their councilors and pending matters, so an
// operator can stand up a chamber from one file.
type SeedDocument struct {
	Chambers []SeedChamber `yaml:"chambers"`
}

// SeedChamber provisions one chamber.
type SeedChamber struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Councilors []SeedMember  `yaml:"councilors"`
	Matters    []SeedMatter  `yaml:"matters"`
}

// SeedMember provisions one chamber member.
type SeedMember struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Presiding bool   `yaml:"presiding"`
}

// SeedMatter provisions one pending legislative matter.
type SeedMatter struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

// SeedFile imports a YAML seed document from disk.
func (s *Store) SeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return s.Seed(f)
}

// Seed imports a YAML seed document. The import is idempotent: existing
// records are updated in place, and a matter that already carries a final
// outcome is never reset.
func (s *Store) Seed(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read seed document: %w", err)
	}
	var doc SeedDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode seed document: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, chamber := range doc.Chambers {
			id := strings.TrimSpace(chamber.ID)
			if id == "" {
				return fmt.Errorf("registry: seed chamber missing id")
			}
			record := Chamber{ID: id, Name: strings.TrimSpace(chamber.Name)}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name"}),
			}).Create(&record).Error; err != nil {
				return fmt.Errorf("seed chamber %s: %w", id, err)
			}

			presiding := 0
			for _, member := range chamber.Councilors {
				memberID := strings.TrimSpace(member.ID)
				if memberID == "" {
					return fmt.Errorf("registry: seed councilor in chamber %s missing id", id)
				}
				if member.Presiding {
					presiding++
				}
				councilor := Councilor{
					ID:        memberID,
					ChamberID: id,
					Name:      strings.TrimSpace(member.Name),
					Presiding: member.Presiding,
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{"chamber_id", "name", "presiding"}),
				}).Create(&councilor).Error; err != nil {
					return fmt.Errorf("seed councilor %s: %w", memberID, err)
				}
			}
			if presiding > 1 {
				return fmt.Errorf("registry: chamber %s declares %d presiding officers", id, presiding)
			}

			for _, matter := range chamber.Matters {
				matterID := strings.TrimSpace(matter.ID)
				if matterID == "" {
					return fmt.Errorf("registry: seed matter in chamber %s missing id", id)
				}
				record := Matter{
					ID:        matterID,
					ChamberID: id,
					Title:     strings.TrimSpace(matter.Title),
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{"chamber_id", "title"}),
				}).Create(&record).Error; err != nil {
					return fmt.Errorf("seed matter %s: %w", matterID, err)
				}
			}
		}
		return nil
	})
}
