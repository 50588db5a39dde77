package storage

// Storage defines a sink for output records.
type Storage interface {
	Put(records ...interface{}) error
	Close() error
}
