package kvstore

// Entry is one persisted collection stored as a JSON document.
type Entry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:512;not null"`
	Category         string `gorm:"column:category;size:64;not null;index"`
	ValueJSON        string `gorm:"column:value_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (Entry) TableName() string {
	return "kv_entries"
}
