package database

import (
	"path/filepath"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/insanus-notes/backend/pkg/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openRawDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	models := append(notes.Models(), &migrationRecord{})
	if err := database.AutoMigrate(models...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsNormalizesLegacyRows(testContext *testing.T) {
	database := openRawDatabase(testContext)

	legacyCollection := notes.CollectionRecord{
		ID:         "col-1",
		Name:       "Tasks",
		SchemaJSON: `[{"id":"done","name":"Done","type":"bool"}]`,
	}
	brokenCollection := notes.CollectionRecord{ID: "col-2", Name: "Broken", SchemaJSON: "not json"}
	for _, record := range []notes.CollectionRecord{legacyCollection, brokenCollection} {
		if err := database.Create(&record).Error; err != nil {
			testContext.Fatalf("failed to insert collection: %v", err)
		}
	}
	blankNote := notes.NoteRecord{ID: "note-1", Title: "  ", ContentJSON: "{}", PropertiesJSON: "[]"}
	accentedNote := notes.NoteRecord{ID: "note-2", Title: "ÉTÉ Plans", ContentJSON: "{}", PropertiesJSON: "[]"}
	for _, record := range []notes.NoteRecord{blankNote, accentedNote} {
		if err := database.Create(&record).Error; err != nil {
			testContext.Fatalf("failed to insert note: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedCollection notes.CollectionRecord
	if err := database.Where("id = ?", legacyCollection.ID).Take(&storedCollection).Error; err != nil {
		testContext.Fatalf("failed to reload collection: %v", err)
	}
	if !strings.Contains(storedCollection.SchemaJSON, `"type":"boolean"`) {
		testContext.Fatalf("expected boolean schema type, got %s", storedCollection.SchemaJSON)
	}
	if err := database.Where("id = ?", brokenCollection.ID).Take(&storedCollection).Error; err != nil {
		testContext.Fatalf("failed to reload collection: %v", err)
	}
	if storedCollection.SchemaJSON != "not json" {
		testContext.Fatalf("expected malformed schema to be left alone, got %s", storedCollection.SchemaJSON)
	}

	var storedNote notes.NoteRecord
	if err := database.Where("id = ?", blankNote.ID).Take(&storedNote).Error; err != nil {
		testContext.Fatalf("failed to reload note: %v", err)
	}
	if storedNote.Title != notes.DefaultTitle || storedNote.SearchTitle != notes.SearchKey(notes.DefaultTitle) {
		testContext.Fatalf("expected default title, got %q / %q", storedNote.Title, storedNote.SearchTitle)
	}
	if err := database.Where("id = ?", accentedNote.ID).Take(&storedNote).Error; err != nil {
		testContext.Fatalf("failed to reload note: %v", err)
	}
	if storedNote.SearchTitle != "été plans" {
		testContext.Fatalf("expected folded search title, got %q", storedNote.SearchTitle)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeSchemaTypes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database := openRawDatabase(testContext)
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	late := notes.CollectionRecord{ID: "col-2", Name: "Late", SchemaJSON: `[{"id":"flag","name":"Flag","type":"bool"}]`}
	if err := database.Create(&late).Error; err != nil {
		testContext.Fatalf("failed to insert collection: %v", err)
	}
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}

	var stored notes.CollectionRecord
	if err := database.Where("id = ?", late.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload collection: %v", err)
	}
	if stored.SchemaJSON != late.SchemaJSON {
		testContext.Fatalf("expected recorded migration to be skipped, got %s", stored.SchemaJSON)
	}

	applied, err := AppliedMigrations(database)
	if err != nil {
		testContext.Fatalf("failed to list migrations: %v", err)
	}
	if len(applied) != len(migrations) {
		testContext.Fatalf("expected %d recorded migrations, got %v", len(migrations), applied)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Options{Driver: "mysql"}, nil); err == nil {
		testContext.Fatalf("expected an unsupported driver error")
	}
	if _, err := Open(Options{Driver: DriverPostgres}, nil); err == nil {
		testContext.Fatalf("expected a missing dsn error")
	}
}

func TestOpenSQLiteCreatesTables(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "store.db")
	database, err := Open(Options{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open store: %v", err)
	}
	for _, table := range []string{"collections", "notes", "note_properties", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
}
