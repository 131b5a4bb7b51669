package unitofwork

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/encryption"
	"github.com/orneryd/norm/pkg/endpoints"
	"github.com/orneryd/norm/pkg/flatten"
	"github.com/orneryd/norm/pkg/mapping"
	"github.com/orneryd/norm/pkg/storage"
)

const exportFormat = "norm-transaction/1"

// ErrInvalidExport is returned by Import for data that is not an export.
var ErrInvalidExport = errors.New("unitofwork: invalid transaction export")

// Export flattens the loaded state of a root transaction: its data
// containers, its real end-points with their sync state and its collection
// end-points. Import restores it, uncommitted changes included.
func (tx *Transaction) Export() ([]byte, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if tx.parent != nil {
		return nil, fmt.Errorf("%w: sub-transactions cannot be exported", ErrInvalidExport)
	}

	w := flatten.NewWriter()
	w.AddString(exportFormat)
	w.AddString(tx.id)

	ids := sortedIDs(tx.containers)
	w.AddInt(int64(len(ids)))
	for _, id := range ids {
		if err := writeSnapshot(w, tx.containers[id].Snapshot()); err != nil {
			return nil, fmt.Errorf("export '%s': %w", id, err)
		}
	}

	realIDs := sortedEndPointIDs(tx.reals)
	w.AddInt(int64(len(realIDs)))
	for _, id := range realIDs {
		ep := tx.reals[id]
		w.AddObjectID(id.ObjectID)
		w.AddString(id.PropertyName())
		w.AddInt(int64(ep.SyncState()))
		w.AddBool(ep.HasBeenTouched())
	}

	collectionIDs := sortedEndPointIDs(tx.collections)
	w.AddInt(int64(len(collectionIDs)))
	for _, id := range collectionIDs {
		w.AddHandle(tx.collections[id])
	}
	return w.Bytes()
}

// ExportSealed is Export encrypted with passphrase. iterations <= 0 uses
// the default key derivation cost.
func (tx *Transaction) ExportSealed(passphrase string, iterations int) ([]byte, error) {
	data, err := tx.Export()
	if err != nil {
		return nil, err
	}
	return encryption.Seal(data, passphrase, iterations)
}

// Import restores an exported transaction on top of engine. Sealed data is
// opened with passphrase.
func Import(data []byte, passphrase string, engine storage.Engine, registry *mapping.Registry, opts ...Option) (*Transaction, error) {
	if encryption.IsSealed(data) {
		opened, err := encryption.Open(data, passphrase)
		if err != nil {
			return nil, err
		}
		data = opened
	}

	id, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	tx := newTransaction(id, registry)
	tx.root = tx
	tx.engine = engine
	tx.objects = make(map[domain.ObjectID]*domain.Object)
	for _, opt := range opts {
		opt(tx)
	}
	tx.source = &storageSource{tx: tx, engine: engine}
	tx.init()

	r, err := flatten.NewReader(data, map[string]any{
		endpoints.ServiceProvider:           tx,
		endpoints.ServiceLoader:             endPointLoader{tx: tx},
		endpoints.ServiceEventSink:          tx.sink,
		endpoints.ServiceDataManagerFactory: tx.factory,
		endpoints.ServiceMapping:            registry,
	})
	if err != nil {
		return nil, err
	}
	endpoints.RegisterFactories(r)
	r.GetString()
	r.GetString()

	n := int(r.GetInt())
	for i := 0; i < n && r.Err() == nil; i++ {
		dc := domain.RestoreDataContainer(readSnapshot(r))
		tx.containers[dc.ID()] = dc
	}

	n = int(r.GetInt())
	for i := 0; i < n && r.Err() == nil; i++ {
		if err := tx.restoreRealEndPoint(r); err != nil {
			r.Fail(err)
		}
	}

	n = int(r.GetInt())
	for i := 0; i < n && r.Err() == nil; i++ {
		ep, ok := r.GetHandle().(*endpoints.CollectionEndPoint)
		if !ok {
			r.Fail(fmt.Errorf("%w: collection end-point expected", ErrInvalidExport))
			break
		}
		tx.collections[ep.ID()] = ep
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	if !r.Done() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidExport)
	}
	tx.logger.Info("transaction imported",
		zap.Int("objects", len(tx.containers)),
		zap.Int("collections", len(tx.collections)))
	return tx, nil
}

func readHeader(data []byte) (string, error) {
	r, err := flatten.NewReader(data, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	format, id := r.GetString(), r.GetString()
	if r.Err() != nil || format != exportFormat || id == "" {
		return "", fmt.Errorf("%w: unknown format %q", ErrInvalidExport, format)
	}
	return id, nil
}

func (tx *Transaction) restoreRealEndPoint(r *flatten.Reader) error {
	objID := r.GetObjectID()
	property := r.GetString()
	state := endpoints.SyncState(r.GetInt())
	touched := r.GetBool()
	if err := r.Err(); err != nil {
		return err
	}
	def, err := tx.mapping.EndPoint(objID.ClassID, property)
	if err != nil {
		return err
	}
	dc, ok := tx.containers[objID]
	if !ok {
		return fmt.Errorf("%w: no data for '%s'", ErrInvalidExport, objID)
	}
	id := endpoints.NewRelationEndPointID(objID, def)
	tx.reals[id] = endpoints.RestoreRealObjectEndPoint(id, tx.GetObjectReference(objID), dc, tx, tx.sink, state, touched)
	return nil
}

func writeSnapshot(w *flatten.Writer, s domain.Snapshot) error {
	w.AddObjectID(s.ID)
	w.AddInt(int64(s.State))
	w.AddInt(int64(s.Version))
	w.AddBool(s.Touched)
	w.AddBool(s.NewInTx)
	if err := writeFields(w, s.Original); err != nil {
		return err
	}
	return writeFields(w, s.Current)
}

func readSnapshot(r *flatten.Reader) domain.Snapshot {
	var s domain.Snapshot
	s.ID = r.GetObjectID()
	s.State = domain.State(r.GetInt())
	s.Version = uint64(r.GetInt())
	s.Touched = r.GetBool()
	s.NewInTx = r.GetBool()
	s.Original = readFields(r)
	s.Current = readFields(r)
	return s
}

func writeFields(w *flatten.Writer, fields map[string]any) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	w.AddInt(int64(len(names)))
	for _, name := range names {
		w.AddString(name)
		if err := w.AddValue(fields[name]); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

func readFields(r *flatten.Reader) map[string]any {
	n := int(r.GetInt())
	fields := make(map[string]any, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		name := r.GetString()
		fields[name] = r.GetValue()
	}
	return fields
}
