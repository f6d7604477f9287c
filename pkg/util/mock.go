package util

import "github.com/influxdata/influxdb-client-go/api/write"

// MockWriteAPI is the no-op telemetry sink used when no InfluxDB host is
// configured.
type MockWriteAPI struct{}

// WriteRecord writes asynchronously line protocol record into bucket.
func (m *MockWriteAPI) WriteRecord(line string) {}

// WritePoint writes asynchronously Point into bucket.
func (m *MockWriteAPI) WritePoint(point *write.Point) {}

// Flush forces all pending writes from the buffer to be sent
func (m *MockWriteAPI) Flush() {}

// Close flushes all pending writes and stops async processes.
func (m *MockWriteAPI) Close() {}

// Errors returns a channel for reading errors which occur during async
// writes. Must be called before performing any writes for errors to be
// collected.
func (m *MockWriteAPI) Errors() <-chan error { return nil }
