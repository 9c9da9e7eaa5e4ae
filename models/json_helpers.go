package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

func ConvertToJSON(data interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(bytes), nil
}

// ParseJSON decodes an opaque JSON column into the given target.
func ParseJSON(data datatypes.JSON, target interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
