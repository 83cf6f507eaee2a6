package entities

import "time"

// CacheBucket is one named cache partition. Names are a persisted contract
// and must stay stable across releases.
type CacheBucket struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (CacheBucket) TableName() string {
	return "cache_buckets"
}

// CacheEntry is a stored response keyed by (cache name, request key hash).
// The full request key is kept for listing since URLs may exceed index limits.
type CacheEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CacheName  string    `gorm:"size:100;not null;uniqueIndex:idx_cache_entry_key,priority:1" json:"cache_name"`
	KeyHash    string    `gorm:"size:64;not null;uniqueIndex:idx_cache_entry_key,priority:2" json:"key_hash"`
	RequestKey string    `gorm:"type:text;not null" json:"request_key"`
	Status     int       `gorm:"not null" json:"status"`
	Header     string    `gorm:"type:text" json:"header"`
	Body       []byte    `gorm:"type:longblob" json:"-"`
	StoredAt   time.Time `gorm:"not null" json:"stored_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
