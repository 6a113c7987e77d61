package logging

import (
	"go.uber.org/zap"

	"yuzu/arbiter/internal/floor"
	"yuzu/arbiter/internal/transcript"
)

// Observer writes arbiter activity to a zap logger.
type Observer struct {
	log *zap.Logger
}

var _ floor.Observer = (*Observer)(nil)

func NewObserver(logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{log: logger.With(zap.String("component", "floor"))}
}

func (o *Observer) Decided(d floor.Decision) {
	fields := []zap.Field{
		zap.String("action", d.Action.String()),
		zap.String("verdict", d.Verdict.String()),
		zap.String("kind", d.Kind.String()),
		zap.String("reason", d.Reason),
	}
	if d.Seq != 0 {
		fields = append(fields, zap.Uint64("seq", d.Seq))
	}
	if d.HandleID != "" {
		fields = append(fields, zap.String("utterance_id", d.HandleID))
	}
	if d.Action == floor.Interrupt {
		o.log.Info("agent speech interrupted", fields...)
		return
	}
	o.log.Debug("transcript decided", fields...)
}

func (o *Observer) Malformed(kind transcript.Kind, reason string) {
	o.log.Warn("malformed transcript event", zap.String("kind", kind.String()), zap.String("reason", reason))
}

func (o *Observer) Transitioned(from, to floor.State) {
	o.log.Debug("speech state", zap.Stringer("from", from), zap.Stringer("to", to))
}
