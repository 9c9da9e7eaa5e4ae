package impl

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kbchat/config"
	"github.com/kbchat/models"
	"github.com/kbchat/notion"
)

// extractMetadata coerces the queryable fields of a page's properties
// into typed projection rows, plus a flat map mirrored into the
// document's extracted_metadata. Fields whose property is missing or of
// the wrong shape are skipped.
func extractMetadata(documentID uuid.UUID, fields map[string]config.FieldDefinition, properties map[string]interface{}) ([]models.DocumentMetadata, map[string]interface{}) {
	var rows []models.DocumentMetadata
	extracted := make(map[string]interface{})

	for name, def := range fields {
		source := def.Source
		if source == "" {
			source = name
		}
		prop, ok := notion.Property(properties, source)
		if !ok {
			continue
		}

		row := models.DocumentMetadata{
			ID:         uuid.New(),
			DocumentID: documentID,
			FieldName:  name,
			FieldType:  def.Type,
		}

		switch def.Type {
		case "text":
			value, ok := notion.TextValue(prop)
			if !ok || value == "" {
				continue
			}
			row.TextValue = &value
			extracted[name] = value

		case "select":
			value, ok := notion.SelectValue(prop)
			if !ok || value == "" {
				continue
			}
			row.TextValue = &value
			extracted[name] = value

		case "number":
			value, ok := notion.NumberValue(prop)
			if !ok {
				continue
			}
			row.NumberValue = &value
			extracted[name] = value

		case "multi_select":
			values, ok := notion.MultiSelectValues(prop)
			if !ok || len(values) == 0 {
				continue
			}
			row.ArrayValue = pq.StringArray(values)
			extracted[name] = values

		case "date":
			start, _, ok := notion.DateValue(prop)
			if !ok {
				continue
			}
			if ts, err := time.Parse(time.RFC3339, start); err == nil {
				row.DatetimeValue = &ts
				extracted[name] = start
			} else if day, err := time.Parse("2006-01-02", start); err == nil {
				row.DateValue = &day
				extracted[name] = start
			} else {
				continue
			}

		case "checkbox":
			value, ok := notion.CheckboxValue(prop)
			if !ok {
				continue
			}
			row.BooleanValue = &value
			extracted[name] = value

		default:
			continue
		}

		// Only filterable fields get projection rows; the rest still
		// land in extracted_metadata.
		if def.Filterable {
			rows = append(rows, row)
		}
	}

	return rows, extracted
}
