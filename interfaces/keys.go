package interfaces

import "strconv"

// ShardSize bounds the number of files per minor shard directory.
const ShardSize = 10000

// KeyBase returns the [majorShard, minorShard] prefix for id.
func KeyBase(id int64) StorageKey {
	return StorageKey{
		strconv.FormatInt(id/ShardSize, 10),
		strconv.FormatInt(id%ShardSize, 10),
	}
}

// KeyFor maps an attachment identity and a sanitized filename to its storage
// key: [id div 10000, id mod 10000, filename].
func KeyFor(id int64, filename string) StorageKey {
	return append(KeyBase(id), filename)
}
