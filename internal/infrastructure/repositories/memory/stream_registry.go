package memory

import (
	"sync"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	apperrors "pyrite/pkg/errors"

	"go.uber.org/zap"
)

// StreamRegistry keeps stream records in insertion order plus the up-stream
// kind index. Every indexed id resolves to a live up-record of that kind.
type StreamRegistry struct {
	mu      sync.RWMutex
	records map[domain.StreamID]*domain.StreamRecord
	order   []domain.StreamID
	upMedia map[domain.KindName][]domain.StreamID
	logger  *zap.SugaredLogger
}

func NewStreamRegistry(logger *zap.SugaredLogger) *StreamRegistry {
	return &StreamRegistry{
		records: make(map[domain.StreamID]*domain.StreamRecord),
		upMedia: make(map[domain.KindName][]domain.StreamID),
		logger:  logger,
	}
}

var _ ports.StreamRegistry = (*StreamRegistry)(nil)

func (r *StreamRegistry) Add(record *domain.StreamRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID()]; exists {
		r.logger.Errorw("duplicate stream record",
			"stream_id", record.ID(),
			"direction", record.Direction(),
			"kind", record.Kind().Name(),
		)
		return apperrors.NewDuplicateIDError(string(record.ID()))
	}

	r.records[record.ID()] = record
	r.order = append(r.order, record.ID())
	return nil
}

// Remove deletes the record. A dangling index entry for id is purged too.
func (r *StreamRegistry) Remove(id domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		r.logger.Warnw("remove of unknown stream", "stream_id", id)
		return apperrors.NewNotFoundError("stream " + string(id))
	}

	delete(r.records, id)
	r.order = removeID(r.order, id)

	kind := record.Kind().Name()
	if ids := r.upMedia[kind]; containsID(ids, id) {
		r.logger.Warnw("purging dangling kind index entry", "stream_id", id, "kind", kind)
		r.upMedia[kind] = removeID(ids, id)
	}
	return nil
}

func (r *StreamRegistry) Get(id domain.StreamID) (*domain.StreamRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, false
	}
	return record.Clone(), true
}

func (r *StreamRegistry) Update(id domain.StreamID, fn func(r *domain.StreamRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return apperrors.NewNotFoundError("stream " + string(id))
	}
	fn(record)
	return nil
}

// FindByKind returns the first record, in insertion order, matching direction and kind.
func (r *StreamRegistry) FindByKind(direction domain.Direction, kind domain.KindName) (domain.StreamID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if r.records[id].Is(direction, kind) {
			return id, true
		}
	}
	return "", false
}

func (r *StreamRegistry) List() []*domain.StreamRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.StreamRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].Clone())
	}
	return out
}

func (r *StreamRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[domain.StreamID]*domain.StreamRecord)
	r.order = nil
	r.upMedia = make(map[domain.KindName][]domain.StreamID)
}

// Index appends id to the kind index. The id must name a live up-record of that kind.
func (r *StreamRegistry) Index(kind domain.KindName, id domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists || !record.Is(domain.DirectionUp, kind) {
		r.logger.Errorw("refusing to index stream", "stream_id", id, "kind", kind, "known", exists)
		return apperrors.NewConflictError("stream " + string(id) + " is not a live " + string(kind) + " up-stream")
	}
	if containsID(r.upMedia[kind], id) {
		return apperrors.NewDuplicateIDError(string(id))
	}
	r.upMedia[kind] = append(r.upMedia[kind], id)
	return nil
}

// Unindex removes id from the kind index. Removing an absent id is logged and
// reported but leaves the index untouched.
func (r *StreamRegistry) Unindex(kind domain.KindName, id domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.upMedia[kind]
	if !containsID(ids, id) {
		r.logger.Debugw("kind index entry already gone", "stream_id", id, "kind", kind)
		return apperrors.NewNotFoundError("index entry " + string(kind) + "/" + string(id))
	}
	r.upMedia[kind] = removeID(ids, id)
	return nil
}

func (r *StreamRegistry) Indexed(kind domain.KindName) []domain.StreamID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.upMedia[kind]
	out := make([]domain.StreamID, len(ids))
	copy(out, ids)
	return out
}

func containsID(ids []domain.StreamID, id domain.StreamID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []domain.StreamID, id domain.StreamID) []domain.StreamID {
	for i, v := range ids {
		if v == id {
			out := make([]domain.StreamID, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}
