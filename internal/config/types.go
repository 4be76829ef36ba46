package config

// Storage drivers
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

var validDrivers = map[string]bool{
	DriverFile:   true,
	DriverSQLite: true,
	DriverS3:     true,
	DriverMemory: true,
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 250
	DefaultWorkers  = 4
	MaxWorkers      = 32
)
