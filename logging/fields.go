package logging

import "context"

// Field mutates a LogEntry; callers build them with the constructors below
// instead of touching LogEntry directly.
type Field struct {
	apply func(*LogEntry)
}

func (f Field) Apply(entry *LogEntry) {
	f.apply(entry)
}

func UserID(v string) Field {
	return Field{apply: func(e *LogEntry) { e.UserID = v }}
}

func OrderID(v string) Field {
	return Field{apply: func(e *LogEntry) { e.OrderID = v }}
}

func Symbol(v string) Field {
	return Field{apply: func(e *LogEntry) { e.Symbol = v }}
}

func Component(v string) Field {
	return Field{apply: func(e *LogEntry) { e.Component = v }}
}

// Any attaches an arbitrary key/value to the entry's Extra bag; use the
// typed constructors above when the field is one the engine emits often.
func Any(key string, value interface{}) Field {
	return Field{apply: func(e *LogEntry) {
		if e.Extra == nil {
			e.Extra = make(map[string]interface{})
		}
		e.Extra[key] = value
	}}
}

type ctxKey int

const ctxKeyUserID ctxKey = iota

// ContextWithUserID stashes a user id so a derived ContextLogger can attach
// it to every entry without every call site threading it through.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// FieldsFromContext extracts the correlation fields logger.WithContext
// stamps onto every entry logged through the returned ContextLogger.
func FieldsFromContext(ctx context.Context) []Field {
	var fields []Field
	if v, ok := ctx.Value(ctxKeyUserID).(string); ok && v != "" {
		fields = append(fields, UserID(v))
	}
	return fields
}
