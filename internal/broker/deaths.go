package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeathCount returns how many times a message was dead-lettered out of queue,
// according to its x-death header. A missing or malformed header counts as 0.
func DeathCount(headers amqp.Table, queue string) int {
	raw, ok := headers["x-death"]
	if !ok {
		return 0
	}
	entries, ok := raw.([]any)
	if !ok {
		return 0
	}
	total := 0
	for _, entry := range entries {
		table, ok := asTable(entry)
		if !ok {
			continue
		}
		if name, _ := table["queue"].(string); name != queue {
			continue
		}
		total += asCount(table["count"])
	}
	return total
}

func asTable(v any) (amqp.Table, bool) {
	switch t := v.(type) {
	case amqp.Table:
		return t, true
	case map[string]any:
		return amqp.Table(t), true
	default:
		return nil, false
	}
}

func asCount(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
