package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SensorKind is the closed vocabulary of raw data formats. It selects the
// converter the Conversion Dispatcher invokes.
type SensorKind string

const (
	SensorIDX         SensorKind = "IDX"
	SensorTIFF        SensorKind = "TIFF"
	SensorTIFFRGB     SensorKind = "TIFF_RGB"
	Sensor4DNexus      SensorKind = "4D_NEXUS"
	SensorHDF5        SensorKind = "HDF5"
	SensorNetCDF      SensorKind = "NETCDF"
	SensorRGBDrone    SensorKind = "RGB_DRONE"
	SensorMAPIRDrone  SensorKind = "MAPIR_DRONE"
	SensorOther       SensorKind = "OTHER"
)

func (s SensorKind) Valid() bool {
	switch s {
	case SensorIDX, SensorTIFF, SensorTIFFRGB, Sensor4DNexus, SensorHDF5, SensorNetCDF,
		SensorRGBDrone, SensorMAPIRDrone, SensorOther:
		return true
	}
	return false
}

// Visibility governs both is_public and is_downloadable.
type Visibility string

const (
	VisibilityOnlyOwner Visibility = "only_owner"
	VisibilityOnlyTeam  Visibility = "only_team"
	VisibilityPublic    Visibility = "public"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityOnlyOwner, VisibilityOnlyTeam, VisibilityPublic:
		return true
	}
	return false
}

// DatasetFile is one entry of the append-only Files array.
type DatasetFile struct {
	Filename     string    `json:"filename"`
	SizeBytes    int64     `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
	RelativePath string    `json:"relativePath"`
}

// Dataset is the unit of ingestion: one logical scientific artifact
// composed of one or more files plus metadata. The four identifiers
// (UUID, Name, Slug, NumericID) always resolve to this same record or to
// nothing — see service.IdentifierResolver.
type Dataset struct {
	UUID        uuid.UUID  `json:"uuid" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string     `json:"name" gorm:"index:idx_owner_name,unique;not null"`
	Slug        string     `json:"slug" gorm:"uniqueIndex;not null"`
	NumericID   int64      `json:"numericId" gorm:"uniqueIndex;not null"`
	OwnerEmail  string     `json:"ownerEmail" gorm:"index:idx_owner_name,unique;not null"`
	TeamID      *string    `json:"teamId"`
	SensorKind  SensorKind `json:"sensorKind" gorm:"not null"`
	Convert     bool       `json:"convert" gorm:"not null"`
	IsPublic       Visibility `json:"isPublic" gorm:"not null;default:'only_owner'"`
	IsDownloadable Visibility `json:"isDownloadable" gorm:"not null;default:'only_owner'"`
	Status         Status     `json:"status" gorm:"index;not null;default:'submitted'"`

	Files       datatypes.JSON `json:"files" gorm:"type:jsonb;default:'[]'"`
	DataSizeGB  float64        `json:"dataSizeGb"`
	Folder      string         `json:"folder"`
	Tags        datatypes.JSON `json:"tags" gorm:"type:jsonb;default:'[]'"`
	Description string         `json:"description"`

	SourceConfig datatypes.JSON `json:"-" gorm:"type:jsonb"`

	ConversionAttempts     int        `json:"conversionAttempts"`
	ConversionErrorMessage string     `json:"conversionErrorMessage,omitempty"`
	ConversionDurationMS   int64      `json:"conversionDurationMs,omitempty"`
	ClaimedAt              *time.Time `json:"claimedAt,omitempty"`
	CancelRequested        bool       `json:"cancelRequested"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Dataset) TableName() string { return "datasets" }
