package unitofwork

import (
	"go.uber.org/zap"

	"github.com/orneryd/norm/pkg/endpoints"
)

// eventSinks fans relation events out to every sink of a transaction. The
// first sink to veto a change stops it; later sinks are not asked.
type eventSinks []endpoints.EventSink

func (s eventSinks) RelationChanging(change endpoints.RelationChange) error {
	for _, sink := range s {
		if err := sink.RelationChanging(change); err != nil {
			return err
		}
	}
	return nil
}

func (s eventSinks) RelationChanged(change endpoints.RelationChange) {
	for _, sink := range s {
		sink.RelationChanged(change)
	}
}

func (s eventSinks) DataReplaced(id endpoints.RelationEndPointID) {
	for _, sink := range s {
		sink.DataReplaced(id)
	}
}

func (s eventSinks) LoadStateChanged(id endpoints.RelationEndPointID, complete bool) {
	for _, sink := range s {
		sink.LoadStateChanged(id, complete)
	}
}

// writeGuard vetoes every change while the transaction is read-only.
type writeGuard struct {
	endpoints.NopEventSink
	tx *Transaction
}

func (g writeGuard) RelationChanging(endpoints.RelationChange) error {
	return g.tx.CheckWritable()
}

// logSink writes relation events to the transaction's logger.
type logSink struct {
	logger *zap.Logger
}

func (s logSink) RelationChanging(endpoints.RelationChange) error { return nil }

func (s logSink) RelationChanged(change endpoints.RelationChange) {
	s.logger.Debug("relation changed",
		zap.Stringer("end_point", change.EndPointID),
		zap.String("kind", string(change.Kind)),
		zap.Stringer("old", change.OldRelated),
		zap.Stringer("new", change.NewRelated))
}

func (s logSink) DataReplaced(id endpoints.RelationEndPointID) {
	s.logger.Debug("collection data replaced", zap.Stringer("end_point", id))
}

func (s logSink) LoadStateChanged(id endpoints.RelationEndPointID, complete bool) {
	s.logger.Debug("collection load state changed",
		zap.Stringer("end_point", id),
		zap.Bool("complete", complete))
}

// metricsSink counts performed changes.
type metricsSink struct {
	endpoints.NopEventSink
	metrics *Metrics
}

func (s metricsSink) RelationChanged(change endpoints.RelationChange) {
	s.metrics.changed(string(change.Kind))
}
