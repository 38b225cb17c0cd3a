package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/insanus-notes/backend/pkg/notes"
	"github.com/insanus-notes/backend/pkg/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeSchemaTypes = "2026-10-01_normalize_schema_types"
	migrationDefaultBlankTitles   = "2026-10-02_default_blank_titles"
	migrationBackfillSearchTitles = "2026-10-03_backfill_search_titles"
	migrationBatchSize            = 500
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{name: migrationNormalizeSchemaTypes, apply: normalizeSchemaTypes},
	{name: migrationDefaultBlankTitles, apply: defaultBlankTitles},
	{name: migrationBackfillSearchTitles, apply: backfillSearchTitles},
}

// AppliedMigrations lists the names recorded in db_migrations.
func AppliedMigrations(db *gorm.DB) ([]string, error) {
	var records []migrationRecord
	if err := db.Order("name ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for _, record := range records {
		names = append(names, record.Name)
	}
	return names, nil
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Older clients declared checkbox columns with the "bool" spelling. Decoding normalises the
// type, so a collection is rewritten only when its re-encoded schema differs.
func normalizeSchemaTypes(db *gorm.DB) error {
	var records []notes.CollectionRecord
	return db.FindInBatches(&records, migrationBatchSize, func(tx *gorm.DB, _ int) error {
		for _, record := range records {
			if !json.Valid([]byte(record.SchemaJSON)) {
				continue
			}
			encoded, err := json.Marshal(schema.DecodeSchema([]byte(record.SchemaJSON)))
			if err != nil {
				return err
			}
			if string(encoded) == record.SchemaJSON {
				continue
			}
			if err := tx.Model(&notes.CollectionRecord{}).
				Where("id = ?", record.ID).
				Update("schema_json", string(encoded)).Error; err != nil {
				return err
			}
		}
		return nil
	}).Error
}

func defaultBlankTitles(db *gorm.DB) error {
	return db.Model(&notes.NoteRecord{}).
		Where("TRIM(title) = ''").
		Updates(map[string]any{"title": notes.DefaultTitle, "search_title": notes.SearchKey(notes.DefaultTitle)}).Error
}

func backfillSearchTitles(db *gorm.DB) error {
	var records []notes.NoteRecord
	return db.Select("id", "title").FindInBatches(&records, migrationBatchSize, func(tx *gorm.DB, _ int) error {
		for _, record := range records {
			if err := tx.Model(&notes.NoteRecord{}).
				Where("id = ?", record.ID).
				Update("search_title", notes.SearchKey(record.Title)).Error; err != nil {
				return err
			}
		}
		return nil
	}).Error
}
