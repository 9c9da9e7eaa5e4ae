package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// FieldDefinitions maps a logical field name onto its Notion source
// property, declared type, and filterability. Stored as JSONB.
type FieldDefinitions map[string]FieldDefinition

type FieldDefinition struct {
	Type       string `json:"type"` // text|number|select|multi_select|date|checkbox
	Source     string `json:"source"`
	Filterable bool   `json:"filterable"`
}

func (f FieldDefinitions) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *FieldDefinitions) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), f)
	}

	return json.Unmarshal(bytes, f)
}

// NotionDatabase is one remote database registration. Created on first
// sync, updated on resync, never deleted by the ingestion core.
type NotionDatabase struct {
	DatabaseID       string           `json:"database_id" gorm:"type:varchar(64);primary_key"`
	Name             string           `json:"name" gorm:"not null"`
	NotionSchema     datatypes.JSON   `json:"notion_schema" gorm:"type:jsonb;default:'{}'"`
	FieldDefinitions FieldDefinitions `json:"field_definitions" gorm:"type:jsonb;default:'{}'"`
	QueryableFields  FieldDefinitions `json:"queryable_fields" gorm:"type:jsonb;default:'{}'"`
	IsActive         bool             `json:"is_active" gorm:"default:true"`
	LastSyncAt       *time.Time       `json:"last_sync_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (NotionDatabase) TableName() string {
	return "notion_databases"
}
