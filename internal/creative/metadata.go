package creative

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Metadata is the creative description of one sample. List fields are always
// string slices regardless of how the model shaped them.
type Metadata struct {
	BaseName           string         `mapstructure:"nombre_archivo_base"`
	Tags               []string       `mapstructure:"tags"`
	TagsES             []string       `mapstructure:"tags_es"`
	Type               string         `mapstructure:"tipo"`
	Genre              []string       `mapstructure:"genero"`
	Emotion            []string       `mapstructure:"emocion"`
	EmotionES          []string       `mapstructure:"emocion_es"`
	Instruments        []string       `mapstructure:"instrumentos"`
	ArtistVibes        []string       `mapstructure:"artista_vibes"`
	ShortDescription   string         `mapstructure:"descripcion_corta"`
	ShortDescriptionES string         `mapstructure:"descripcion_corta_es"`
	Description        string         `mapstructure:"descripcion"`
	DescriptionES      string         `mapstructure:"descripcion_es"`
	Extra              map[string]any `mapstructure:",remain"`
}

// DecodeMetadata converts a raw model object into Metadata.
func DecodeMetadata(raw map[string]any) (*Metadata, error) {
	var meta Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(stringListHook, joinListHook),
		WeaklyTypedInput: true,
		Result:           &meta,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode creative metadata: %w", err)
	}
	meta.BaseName = strings.TrimSpace(meta.BaseName)
	meta.Type = strings.TrimSpace(meta.Type)
	return &meta, nil
}

// ToMap returns the metadata keyed by its wire names. Empty fields are
// omitted so they never overwrite existing content data.
func (m *Metadata) ToMap() map[string]any {
	out := make(map[string]any, 16)
	if m == nil {
		return out
	}
	for key, value := range m.Extra {
		out[key] = value
	}
	putString(out, "nombre_archivo_base", m.BaseName)
	putList(out, "tags", m.Tags)
	putList(out, "tags_es", m.TagsES)
	putString(out, "tipo", m.Type)
	putList(out, "genero", m.Genre)
	putList(out, "emocion", m.Emotion)
	putList(out, "emocion_es", m.EmotionES)
	putList(out, "instrumentos", m.Instruments)
	putList(out, "artista_vibes", m.ArtistVibes)
	putString(out, "descripcion_corta", m.ShortDescription)
	putString(out, "descripcion_corta_es", m.ShortDescriptionES)
	putString(out, "descripcion", m.Description)
	putString(out, "descripcion_es", m.DescriptionES)
	return out
}

func putString(out map[string]any, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		out[key] = value
	}
}

func putList(out map[string]any, key string, values []string) {
	if len(values) > 0 {
		out[key] = append([]string(nil), values...)
	}
}

var stringSliceType = reflect.TypeOf([]string(nil))

// stringListHook turns scalars and mixed lists into []string. A single
// string is split on commas.
func stringListHook(from, to reflect.Type, data any) (any, error) {
	if to != stringSliceType {
		return data, nil
	}
	switch typed := data.(type) {
	case nil:
		return []string{}, nil
	case string:
		return splitList(typed), nil
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if item == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		if from.Kind() == reflect.Slice {
			return data, nil
		}
		return []string{strings.TrimSpace(fmt.Sprint(typed))}, nil
	}
}

// joinListHook flattens a list given for a scalar text field.
func joinListHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if items, ok := data.([]any); ok {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), nil
	}
	return data, nil
}

func splitList(value string) []string {
	fields := strings.Split(value, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if s := strings.TrimSpace(field); s != "" {
			out = append(out, s)
		}
	}
	return out
}
