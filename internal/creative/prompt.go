package creative

import (
	"encoding/json"
	"fmt"
	"strings"
)

const promptTemplate = `Analiza este audio. %s
Tu tarea es generar únicamente un objeto JSON con la siguiente estructura. Sé creativo pero preciso.
No incluyas campos que ya te he proporcionado en los datos técnicos.

- nombre_archivo_base: Un título corto y descriptivo para el sample, en inglés, en minúsculas y usando espacios. NO uses guiones bajos. Ejemplos: "deep kick 808", "sad guitar melody".
- tags: Array de strings con etiquetas descriptivas en inglés (ej: "melodic", "dark", "808", "lo-fi").
- tags_es: Las mismas etiquetas traducidas al español.
- tipo: String, "one shot" o "loop".
- genero: Array de strings con géneros musicales (ej: "hip hop", "trap", "electronic").
- emocion: Array de strings con emociones que evoca, en inglés (ej: "energetic", "sad", "chill").
- emocion_es: Las mismas emociones en español.
- instrumentos: Array de strings con los instrumentos principales que detectes.
- artista_vibes: Array de strings con nombres de artistas que tienen un estilo similar.
- descripcion_corta: Una descripción en inglés de 10-15 palabras.
- descripcion_corta_es: La descripción corta en español.
- descripcion: Una descripción detallada en inglés de 30-50 palabras.
- descripcion_es: La descripción detallada en español.`

// Context is the information the model refines.
type Context struct {
	Title     string
	Technical map[string]any
	Existing  map[string]any
}

// BuildPrompt renders the analysis prompt for ctx.
func BuildPrompt(ctx Context) string {
	var hints []string
	if title := strings.TrimSpace(ctx.Title); title != "" {
		hints = append(hints, fmt.Sprintf("El título original que el usuario le dio es '%s'. Úsalo como inspiración.", title))
	}
	if len(ctx.Technical) > 0 {
		hints = append(hints, fmt.Sprintf("Ya he analizado técnicamente el audio y obtuve estos datos: %s. NO los generes tú, enfócate en los campos creativos.", compactJSON(ctx.Technical)))
	}
	if len(ctx.Existing) > 0 {
		hints = append(hints, fmt.Sprintf("El contenido ya tiene estos datos: %s. Refínalos en lugar de reemplazarlos.", compactJSON(ctx.Existing)))
	}
	return fmt.Sprintf(promptTemplate, strings.Join(hints, " "))
}

func compactJSON(v map[string]any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
