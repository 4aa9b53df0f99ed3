package contentapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Content is a content record.
type Content struct {
	ID          int64
	ContentData map[string]any
}

// Media is an uploaded file record.
type Media struct {
	ID       int64
	Path     string
	Metadata MediaMetadata
}

// MediaMetadata holds the media attributes the worker reads.
type MediaMetadata struct {
	OriginalName string
	Extra        map[string]any
}

// unwrapData returns v["data"] when v is an object carrying that key.
func unwrapData(v any) any {
	if obj, ok := v.(map[string]any); ok {
		if data, ok := obj["data"]; ok {
			return data
		}
	}
	return v
}

func parseContent(v any) (*Content, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("content: expected object, got %T", v)
	}
	id, ok := toInt64(obj["id"])
	if !ok || id == 0 {
		return nil, fmt.Errorf("content: missing id")
	}
	return &Content{ID: id, ContentData: toObject(obj["content_data"])}, nil
}

func parseMedia(v any) (*Media, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("media: expected object, got %T", v)
	}
	id, ok := toInt64(obj["id"])
	if !ok || id == 0 {
		return nil, fmt.Errorf("media: missing id")
	}
	media := &Media{ID: id}
	media.Path, _ = obj["path"].(string)
	meta := toObject(obj["metadata"])
	if name, ok := meta["original_name"].(string); ok {
		media.Metadata.OriginalName = strings.TrimSpace(name)
	}
	delete(meta, "original_name")
	media.Metadata.Extra = meta
	return media, nil
}

// toObject coerces the loose shapes the API uses for JSON columns: objects,
// JSON-encoded strings, and empty lists or null for "no data".
func toObject(v any) map[string]any {
	switch typed := v.(type) {
	case map[string]any:
		return typed
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(typed), &decoded); err == nil && decoded != nil {
			return decoded
		}
	}
	return map[string]any{}
}

func toInt64(v any) (int64, bool) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), typed == float64(int64(typed))
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case json.Number:
		n, err := typed.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
