// Package dispatch implements the Conversion Dispatcher: a
// worker pool that polls the Catalog Store for claimable datasets,
// invokes the converter registered for each dataset's sensor kind, and
// drives its status through the conversion half of the state machine.
package dispatch

import (
	"time"

	"github.com/dom/ingest-pipeline/internal/domain"
)

// ConverterEntry is one row of the duck-typed converter registry: an
// executable to invoke, a timeout, a retry budget, and a priority used by
// Dispatcher.claimOne to order claim attempts when more than one dataset is
// queued for conversion. Higher Priority is claimed first. ExtraParams is a
// flat string map marshaled to JSON and passed as an extra argument to
// converters that need more than input/output directories, such as
// 4D_NEXUS's parameter blob.
type ConverterEntry struct {
	SensorKind  domain.SensorKind
	Executable  string
	Timeout     time.Duration
	MaxAttempts int
	Priority    int
	ExtraParams map[string]string
}

// Registry maps sensor kinds to their converter configuration. It is
// built once at startup from a static table and never mutated at
// runtime, matching the closed sensor-kind vocabulary in domain.SensorKind.
type Registry struct {
	entries map[domain.SensorKind]ConverterEntry
}

func NewRegistry(entries []ConverterEntry) *Registry {
	r := &Registry{entries: make(map[domain.SensorKind]ConverterEntry, len(entries))}
	for _, e := range entries {
		r.entries[e.SensorKind] = e
	}
	return r
}

func (r *Registry) Lookup(kind domain.SensorKind) (ConverterEntry, bool) {
	e, ok := r.entries[kind]
	return e, ok
}

// DefaultRegistry is the out-of-the-box converter table. Every sensor
// kind in the closed vocabulary gets an entry so the dispatcher never has
// to special-case "no converter registered" for a sensor the catalog
// itself accepts.
func DefaultRegistry(defaultTimeout time.Duration, defaultMaxAttempts int) *Registry {
	return NewRegistry([]ConverterEntry{
		{SensorKind: domain.SensorIDX, Executable: "convert_idx", Timeout: defaultTimeout, MaxAttempts: defaultMaxAttempts, Priority: 10},
		{SensorKind: domain.SensorTIFF, Executable: "convert_tiff", Timeout: defaultTimeout, MaxAttempts: defaultMaxAttempts, Priority: 10},
		{SensorKind: domain.SensorTIFFRGB, Executable: "convert_tiff_rgb", Timeout: defaultTimeout, MaxAttempts: defaultMaxAttempts, Priority: 10},
		{SensorKind: domain.Sensor4DNexus, Executable: "convert_4d_nexus", Timeout: defaultTimeout * 2, MaxAttempts: defaultMaxAttempts, Priority: 5, ExtraParams: map[string]string{
			"schema_version": "nexus-4d-v1",
			"axis_order":     "txyz",
			"compression":    "gzip",
		}},
		{SensorKind: domain.SensorHDF5, Executable: "convert_hdf5", Timeout: defaultTimeout, MaxAttempts: defaultMaxAttempts, Priority: 10},
		{SensorKind: domain.SensorNetCDF, Executable: "convert_netcdf", Timeout: defaultTimeout, MaxAttempts: defaultMaxAttempts, Priority: 10},
		{SensorKind: domain.SensorRGBDrone, Executable: "convert_rgb_drone", Timeout: defaultTimeout, MaxAttempts: defaultMaxAttempts, Priority: 15},
		{SensorKind: domain.SensorMAPIRDrone, Executable: "convert_mapir_drone", Timeout: defaultTimeout, MaxAttempts: defaultMaxAttempts, Priority: 15},
		{SensorKind: domain.SensorOther, Executable: "convert_passthrough", Timeout: defaultTimeout, MaxAttempts: 1, Priority: 1},
	})
}

// JobKind names the broader job vocabulary from
// SCLib_JobTypes.py that the dispatcher's registry-driven design supports
// beyond dataset conversion, even though only JobDatasetConversion is
// exercised by the default sensor vocabulary's converters.
type JobKind string

const (
	JobDatasetConversion JobKind = "DATASET_CONVERSION"
	JobRsyncTransfer     JobKind = "RSYNC_TRANSFER"
	JobBackupCreation    JobKind = "BACKUP_CREATION"
	JobDataValidation    JobKind = "DATA_VALIDATION"
	JobDataCompression   JobKind = "DATA_COMPRESSION"
)
