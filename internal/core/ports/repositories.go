package ports

import (
	"pyrite/internal/core/domain"
)

// StreamRegistry owns every live stream record and the up-stream kind index.
type StreamRegistry interface {
	Add(record *domain.StreamRecord) error
	Remove(id domain.StreamID) error
	// Get returns a copy of the record.
	Get(id domain.StreamID) (*domain.StreamRecord, bool)
	Update(id domain.StreamID, fn func(r *domain.StreamRecord)) error
	FindByKind(direction domain.Direction, kind domain.KindName) (domain.StreamID, bool)
	List() []*domain.StreamRecord
	Clear()

	Index(kind domain.KindName, id domain.StreamID) error
	Unindex(kind domain.KindName, id domain.StreamID) error
	Indexed(kind domain.KindName) []domain.StreamID
}
