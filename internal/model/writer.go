package model

// Writer defines a generic interface for forwarding a tick's KPI records to
// a secondary store. Writers run after the records are durable in the log
// sinks; their failures never affect the sinks.
type Writer interface {
	// Write takes the records of one tick and persists or forwards them.
	Write(records []LogRecord) error

	// Name identifies the writer in logs.
	Name() string

	// Close releases the writer's resources.
	Close() error
}
