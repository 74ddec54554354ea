package index

import "time"

// ItemRow is one item version mirrored out of the repository. The
// identifier is stored both whole and split into its components so
// queries can filter on any of them without parsing. SpecJSON carries
// the full metadata document for consumers that need fields the
// flattened columns do not cover.
type ItemRow struct {
	ExtendedID   string    `gorm:"primaryKey;column:extended_id;type:varchar(128)"`
	ShortID      string    `gorm:"column:short_id;index"`
	Prefix       string    `gorm:"column:prefix;index"`
	Typecode     string    `gorm:"column:typecode;index"` // lowercase leader: mo, sm, md
	ItemType     string    `gorm:"column:item_type;index"`
	Number       string    `gorm:"column:number;index;type:varchar(12)"`
	Version      int       `gorm:"column:version"`
	Latest       bool      `gorm:"column:latest;index"`
	Title        string    `gorm:"column:title"`
	Contributor  string    `gorm:"column:contributor;index"`
	Maintainer   string    `gorm:"column:maintainer;index"`
	ModelDriver  string    `gorm:"column:model_driver"`
	DriverNumber string    `gorm:"column:driver_number;index;type:varchar(12)"`
	SpecJSON     string    `gorm:"column:spec_json"`
	InsertedAt   time.Time `gorm:"column:inserted_at"`
}

// TableName returns the GORM table name.
func (ItemRow) TableName() string { return "items" }

// Filter narrows a Query. Zero fields do not constrain. LatestOnly
// defaults to true through Query; AllVersions turns it off.
type Filter struct {
	ItemType    string
	Number      string
	Prefix      string
	Contributor string
	Maintainer  string
	Driver      string // driver kimcode, any version
	AllVersions bool
}
