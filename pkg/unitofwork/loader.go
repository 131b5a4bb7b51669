package unitofwork

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/endpoints"
	"github.com/orneryd/norm/pkg/sorting"
	"github.com/orneryd/norm/pkg/storage"
)

// endPointLoader fills the collection end-points of a transaction.
type endPointLoader struct {
	tx *Transaction
}

// LoadEndPoint loads the members of ep and their data containers. A root
// transaction orders them by the sort expression of the end-point; a
// sub-transaction keeps its parent's order.
func (l endPointLoader) LoadEndPoint(ep *endpoints.CollectionEndPoint) (err error) {
	if ep.IsDataComplete() {
		return nil
	}
	tx := l.tx
	start := time.Now()
	defer func() { tx.metrics.loaded(loadCollection, start, err) }()

	ids, err := tx.source.loadMembers(ep.ID())
	if err != nil {
		return fmt.Errorf("load '%s': %w", ep.ID(), err)
	}
	objs := make([]*domain.Object, 0, len(ids))
	for _, id := range ids {
		if _, err := tx.GetDataContainerWithLazyLoad(id); err != nil {
			return fmt.Errorf("load '%s': %w", ep.ID(), err)
		}
		objs = append(objs, tx.GetObjectReference(id))
	}

	if expr := ep.Definition().SortExpression; tx.parent == nil && len(expr) > 0 {
		cmp := sorting.NewComparer(expr, tx)
		slices.SortStableFunc(objs, cmp.Compare)
		if err := cmp.Err(); err != nil {
			return fmt.Errorf("sort '%s': %w", ep.ID(), err)
		}
	}

	ep.MarkDataComplete(objs)
	tx.logger.Debug("collection loaded",
		zap.Stringer("end_point", ep.ID()),
		zap.Int("count", len(objs)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// storageSource reads committed data from a storage engine.
type storageSource struct {
	tx     *Transaction
	engine storage.Engine
}

// loadContainer builds the container from the record and its outgoing
// links, which become ObjectID values under the foreign key properties.
func (s *storageSource) loadContainer(id domain.ObjectID) (*domain.DataContainer, error) {
	record, err := s.engine.GetRecord(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &domain.ObjectNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load '%s': %w", id, err)
	}
	links, err := s.engine.GetOutgoingLinks(id)
	if err != nil {
		return nil, fmt.Errorf("load '%s': %w", id, err)
	}

	fields := record.Fields
	if fields == nil {
		fields = make(map[string]any, len(links))
	}
	for _, def := range s.tx.mapping.EndPointsOf(id.ClassID) {
		if def.Virtual {
			continue
		}
		for _, l := range links {
			if l.Type == def.ID() {
				fields[def.PropertyName] = l.To
			}
		}
	}
	return domain.NewDataContainer(id, domain.StateUnchanged, fields, record.Version), nil
}

// loadMembers returns the referencing records of the end-point's owner.
func (s *storageSource) loadMembers(id endpoints.RelationEndPointID) ([]domain.ObjectID, error) {
	links, err := s.engine.GetIncomingLinks(id.ObjectID, id.Definition.Opposite().ID())
	if err != nil {
		return nil, err
	}
	ids := make([]domain.ObjectID, len(links))
	for i, l := range links {
		ids[i] = l.From
	}
	return ids, nil
}

// parentSource reads the current data of a parent transaction.
type parentSource struct {
	parent *Transaction
}

func (s parentSource) loadContainer(id domain.ObjectID) (*domain.DataContainer, error) {
	dc, err := s.parent.GetDataContainerWithLazyLoad(id)
	if err != nil {
		return nil, err
	}
	return dc.CloneForSubTransaction(), nil
}

func (s parentSource) loadMembers(id endpoints.RelationEndPointID) ([]domain.ObjectID, error) {
	data, err := s.parent.GetOrCreateVirtualEndPoint(id).GetData()
	if err != nil {
		return nil, err
	}
	return domain.IDs(data.Objects()), nil
}
