package plexdb

import "time"

// SetNow pins the clock used for created and modified timestamps
func (d *DB) SetNow(now func() time.Time) {
	d.now = now
}

var (
	EncodeModified = encodeModified
	DecodeModified = decodeModified
)
