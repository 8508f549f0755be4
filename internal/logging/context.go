package logging

import (
	"context"
	"log/slog"

	"voicelog/internal/services"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.CycleIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCycleID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if identity, ok := services.SourceIdentityFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSourceIdentity, identity))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}

// ErrorAttrs expands a classified error into the standard error fields.
func ErrorAttrs(err error) []Attr {
	if err == nil {
		return nil
	}
	attrs := []Attr{Error(err), String(FieldErrorKind, services.Kind(err))}
	if path := services.DetailPath(err); path != "" {
		attrs = append(attrs, String(FieldErrorDetailPath, path))
	}
	if hint := services.Hint(err); hint != "" {
		attrs = append(attrs, String(FieldErrorHint, hint))
	}
	return attrs
}
