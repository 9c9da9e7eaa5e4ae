package notion

import (
	"encoding/json"
	"time"
)

// Page is one row of a remote database.
type Page struct {
	ID             string                 `json:"id"`
	Object         string                 `json:"object"`
	CreatedTime    time.Time              `json:"created_time"`
	LastEditedTime time.Time              `json:"last_edited_time"`
	Archived       bool                   `json:"archived"`
	URL            string                 `json:"url"`
	Properties     map[string]interface{} `json:"properties"`
}

// Database is the remote database object. The property schema is kept
// opaque so it can be stored as-is.
type Database struct {
	ID         string          `json:"id"`
	Title      json.RawMessage `json:"title"`
	Properties json.RawMessage `json:"properties"`
}

// Block is one content block. The type-specific payload lives under a
// key named after the block type, so it is pulled out dynamically.
type Block struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	HasChildren bool                   `json:"has_children"`
	Content     map[string]interface{} `json:"-"`
	Children    []Block                `json:"-"`
}

func (b *Block) UnmarshalJSON(data []byte) error {
	type Alias Block
	aux := &struct {
		*Alias
	}{Alias: (*Alias)(b)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if body, ok := raw[b.Type]; ok {
		var content map[string]interface{}
		if err := json.Unmarshal(body, &content); err != nil {
			return err
		}
		b.Content = content
	}

	return nil
}

// MediaRef is one multimedia reference found while rendering blocks.
type MediaRef struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	Position int    `json:"position"`
}

// PageContent is the rendered plain text of a page plus everything
// that cannot be rendered inline.
type PageContent struct {
	Title     string
	Text      string
	MediaRefs []MediaRef
}

type queryResponse struct {
	Results    []Page `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

type blockChildrenResponse struct {
	Results    []Block `json:"results"`
	NextCursor string  `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}
